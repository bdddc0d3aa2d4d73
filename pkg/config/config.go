// Package config loads the control-plane and executor configuration from
// environment variables, matching the tables in spec.md §6. It follows the
// teacher's own choice of github.com/caarlos0/env for struct-tag driven
// parsing instead of hand-rolled os.Getenv calls.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// APIConfig configures the control-plane binary (cmd/kubently-api).
type APIConfig struct {
	ListenAddr string `env:"KUBENTLY_LISTEN_ADDR" envDefault:":8080"`

	RedisURL string `env:"KUBENTLY_REDIS_URL" envDefault:"redis://127.0.0.1:6379/0"`

	APIKeyFile string `env:"KUBENTLY_API_KEY_FILE"`

	OIDCIssuer   string `env:"KUBENTLY_OIDC_ISSUER"`
	OIDCAudience string `env:"KUBENTLY_OIDC_AUDIENCE"`

	// DeviceAuthURL/TokenURL populate the .well-known/kubently-auth document
	// pointing the CLI at the external OAuth provider; the core never mints
	// tokens itself (spec.md §4.8).
	DeviceAuthURL string `env:"KUBENTLY_DEVICE_AUTH_URL"`
	DeviceTokenURL string `env:"KUBENTLY_DEVICE_TOKEN_URL"`

	SessionTTL time.Duration `env:"KUBENTLY_SESSION_TTL" envDefault:"5m"`
	MaxQueueDepth int        `env:"KUBENTLY_MAX_QUEUE_DEPTH" envDefault:"1024"`
	InFlightWindow int       `env:"KUBENTLY_INFLIGHT_WINDOW" envDefault:"8"`

	DispatchDeadline  time.Duration `env:"KUBENTLY_DISPATCH_DEADLINE" envDefault:"30s"`
	StreamingDeadline time.Duration `env:"KUBENTLY_STREAMING_DEADLINE" envDefault:"300s"`
	KeepaliveInterval time.Duration `env:"KUBENTLY_KEEPALIVE_INTERVAL" envDefault:"20s"`

	JWKSCacheTTL time.Duration `env:"KUBENTLY_JWKS_CACHE_TTL" envDefault:"10m"`

	LogLevel  string `env:"KUBENTLY_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"KUBENTLY_LOG_FORMAT" envDefault:"json"`

	A2APathPrefix string `env:"KUBENTLY_A2A_PREFIX" envDefault:"/a2a/"`
}

// Load reads APIConfig from the environment, applying defaults.
func Load() (*APIConfig, error) {
	cfg := &APIConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse control plane config: %w", err)
	}
	return cfg, nil
}

// ExecutorConfig configures cmd/kubently-executor, matching spec.md §6's
// executor environment variable table exactly.
type ExecutorConfig struct {
	APIURL    string `env:"KUBENTLY_API_URL,required"`
	ClusterID string `env:"CLUSTER_ID,required"`
	Token     string `env:"KUBENTLY_TOKEN,required"`

	SSLVerify bool   `env:"KUBENTLY_SSL_VERIFY" envDefault:"true"`
	CACert    string `env:"KUBENTLY_CA_CERT"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	KubectlBin string `env:"KUBENTLY_KUBECTL_BIN" envDefault:"kubectl"`

	ReconnectInterval time.Duration `env:"KUBENTLY_RECONNECT_INTERVAL" envDefault:"5s"`
	CommandTimeout    time.Duration `env:"KUBENTLY_COMMAND_TIMEOUT" envDefault:"30s"`
	PostRetryMax      int           `env:"KUBENTLY_POST_RETRY_MAX" envDefault:"3"`
	PostRetryCap      time.Duration `env:"KUBENTLY_POST_RETRY_CAP" envDefault:"10s"`
}

// LoadExecutor reads ExecutorConfig from the environment.
func LoadExecutor() (*ExecutorConfig, error) {
	cfg := &ExecutorConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse executor config: %w", err)
	}
	if !cfg.SSLVerify {
		// Logged by the caller, which has a logger; config itself stays
		// side-effect free beyond parsing.
	}
	return cfg, nil
}
