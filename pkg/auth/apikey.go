package auth

import (
	"crypto/subtle"
	"encoding/json"
	"os"

	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/kubently"
)

// apiKeyRecord is one entry of the KUBENTLY_API_KEY_FILE mapping: a key
// maps to the identity and scopes it authenticates as.
type apiKeyRecord struct {
	Key         string   `json:"key"`
	Identity    string   `json:"identity"`
	Permissions []string `json:"permissions"`
}

// APIKeyValidator holds the key->identity mapping loaded at startup.
// Comparisons are constant-time (crypto/subtle), grounded on the teacher's
// use of subtle.ConstantTimeCompare for token checks in pkg/relay.
type APIKeyValidator struct {
	records []apiKeyRecord
}

// LoadAPIKeyFile reads a JSON array of {key, identity, permissions} from
// path.
func LoadAPIKeyFile(path string) (*APIKeyValidator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.Internal, "read api key file", err)
	}
	var records []apiKeyRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, kerrors.Wrap(kerrors.Internal, "parse api key file", err)
	}
	return &APIKeyValidator{records: records}, nil
}

// NewStaticAPIKeyValidator builds a validator from an in-memory mapping,
// useful for tests and single-key deployments.
func NewStaticAPIKeyValidator(records ...apiKeyRecord) *APIKeyValidator {
	return &APIKeyValidator{records: records}
}

// Validate checks key against every configured record in constant time and
// returns the matching AuthContext.
func (v *APIKeyValidator) Validate(key string) (kubently.AuthContext, error) {
	if key == "" {
		return kubently.AuthContext{}, kerrors.New(kerrors.Unauthenticated, "empty api key")
	}
	for _, rec := range v.records {
		if subtle.ConstantTimeCompare([]byte(rec.Key), []byte(key)) == 1 {
			perms := make(map[string]struct{}, len(rec.Permissions))
			for _, p := range rec.Permissions {
				perms[p] = struct{}{}
			}
			return kubently.AuthContext{
				Identity:    rec.Identity,
				Method:      kubently.AuthAPIKey,
				Permissions: perms,
			}, nil
		}
	}
	return kubently.AuthContext{}, kerrors.New(kerrors.Unauthenticated, "invalid api key")
}
