package config

import "github.com/mstoykov/envconfig"

// ServerConfig bundles a Transport with the server-specific settings
// quinn-proto's ServerConfig carries alongside it: whether to require an
// address-validation round trip before committing state, and how many
// concurrent handshakes may be in flight before incoming Initials are
// dropped.
type ServerConfig struct {
	Transport *Transport
	Endpoint  *Endpoint

	RequireRetry           bool
	MaxHandshakeConcurrency int
}

// NewServerConfig returns server defaults: retry disabled (enable it once
// under load, per spec.md's amplification-limit discussion) and no
// handshake concurrency cap.
func NewServerConfig() *ServerConfig {
	return &ServerConfig{Transport: NewTransport(), Endpoint: NewEndpoint()}
}

// ClientConfig bundles a Transport with client-specific settings: whether
// to attempt 0-RTT using a previously cached session.
type ClientConfig struct {
	Transport *Transport
	Endpoint  *Endpoint

	Enable0RTT bool
}

// NewClientConfig returns client defaults.
func NewClientConfig() *ClientConfig {
	return &ClientConfig{Transport: NewTransport(), Endpoint: NewEndpoint()}
}

// EnvOverlay holds the subset of engine tuning knobs that may be supplied
// via process environment variables (none of the cmd/ binaries reads it);
// it is loaded with envconfig (the same library the rest of the pack's CLIs use for
// config overlays) rather than hand-rolled os.Getenv calls.
type EnvOverlay struct {
	MaxIdleTimeoutMs  int    `envconfig:"QUIC_MAX_IDLE_TIMEOUT_MS" default:"30000"`
	InitialMaxDataKiB int    `envconfig:"QUIC_INITIAL_MAX_DATA_KIB" default:"1024"`
	CongestionAlgo    string `envconfig:"QUIC_CONGESTION_ALGO" default:"cubic"`
	LogLevel          string `envconfig:"QUIC_LOG_LEVEL" default:"info"`
}

// LoadEnvOverlay reads EnvOverlay from the process environment.
func LoadEnvOverlay() (EnvOverlay, error) {
	var o EnvOverlay
	err := envconfig.Process("", &o)
	return o, err
}
