package executor

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"os"
	"strings"

	"github.com/kubently/kubently/pkg/kerrors"
)

// TLSPolicy configures how the executor connects to C4/C5. Verified TLS is
// the default; plaintext http:// is permitted only with an explicit
// development override (spec.md §4.9 TLS policy).
type TLSPolicy struct {
	AllowInsecureHTTP bool
	CABundlePath      string
}

// BuildTLSConfig returns nil (no TLS, plain http://) when apiURL uses
// http:// and insecure is explicitly allowed, logging a warning either way
// an unverified connection is permitted. For https://, it honors a custom
// CA bundle when given, otherwise falls back to the system pool.
func BuildTLSConfig(apiURL string, policy TLSPolicy, logger *slog.Logger) (*tls.Config, error) {
	isHTTP := strings.HasPrefix(apiURL, "http://")
	if isHTTP {
		if !policy.AllowInsecureHTTP {
			return nil, kerrors.New(kerrors.InvalidArgument, "http:// api_url requires an explicit development override")
		}
		logger.Warn("connecting to control plane over unencrypted http://; this must never be used in production")
		return nil, nil
	}

	if policy.CABundlePath == "" {
		return &tls.Config{MinVersion: tls.VersionTLS13}, nil
	}

	caCert, err := os.ReadFile(policy.CABundlePath)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.Internal, "read CA bundle", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, kerrors.New(kerrors.Internal, "failed to parse CA bundle "+policy.CABundlePath)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS13}, nil
}
