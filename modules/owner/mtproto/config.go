package mtproto

import (
	"errors"
	"time"
)

// Config is the owner module's YAML configuration.
type Config struct {
	// APIID and APIHash identify the application at my.telegram.org.
	APIID   int    `yaml:"api_id"`
	APIHash string `yaml:"api_hash"`

	// SessionFile holds the authorized user-account session. The account
	// must be logged in beforehand (chatforge owner login); the module
	// never prompts interactively.
	SessionFile string `yaml:"session_file"`

	// StartTimeout bounds how long Start waits for the MTProto
	// connection and session check.
	StartTimeout time.Duration `yaml:"start_timeout"`
}

func (c *Config) defaults() {
	if c.StartTimeout == 0 {
		c.StartTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.APIID <= 0 {
		return errors.New("mtproto: api_id is required")
	}
	if c.APIHash == "" {
		return errors.New("mtproto: api_hash is required")
	}
	return nil
}
