package server

const DefaultAddr = "127.0.0.1:8090"

// Config of the development content server.
type Config struct {
	Addr string
	// APIKey, when set, is required as the basic auth user of every request.
	APIKey string
	// RateLimit in limiter format, e.g. "50-S". Empty disables it.
	RateLimit string
	// OmitFingerprints drops fingerprints from listings, forcing clients to
	// fetch content to compare it.
	OmitFingerprints bool
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
}
