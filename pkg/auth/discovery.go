package auth

import (
	"encoding/json"
	"net/http"
)

// DeviceAuthDocument is the static document served at
// /.well-known/kubently-auth, pointing CLI clients at the external OAuth
// provider's device authorization flow. The control plane never mints
// tokens itself (spec.md §4.8 device authorization flow paragraph).
type DeviceAuthDocument struct {
	Issuer                 string `json:"issuer"`
	ClientID               string `json:"client_id"`
	DeviceAuthorizationURL string `json:"device_authorization_endpoint"`
	TokenURL               string `json:"token_endpoint"`
}

// DiscoveryHandler serves doc as the well-known discovery document.
func DiscoveryHandler(doc DeviceAuthDocument) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}
}
