package file

import "fmt"

const defaultStoreFile = "templates.json"

// Config holds the file store module configuration.
type Config struct {
	// Path is the JSON store file path. Defaults to {DataDir}/templates.json.
	Path string `yaml:"path"`

	// FileMode is the octal permission for the store file. Defaults to 0600.
	FileMode uint32 `yaml:"file_mode"`
}

func (c *Config) defaults() {
	if c.FileMode == 0 {
		c.FileMode = 0o600
	}
}

func (c *Config) validate() error {
	if c.FileMode > 0o777 {
		return fmt.Errorf("file: invalid file_mode %o", c.FileMode)
	}
	return nil
}
