package assistant

import (
	"errors"
	"time"
)

const (
	defaultRunTimeout   = 10 * time.Minute
	defaultProbeTimeout = 5 * time.Minute
	grantTimeout        = 30 * time.Second
)

// Config controls the assistant module.
type Config struct {
	// ProbeChatID is the forum supergroup icon probing creates and
	// deletes throwaway topics in. The bot must be an admin there.
	// Icon refresh is unavailable until it is set.
	ProbeChatID int64 `yaml:"probe_chat_id"`

	// IconsFile overrides the icon cache location. Defaults to
	// topic_icons.json under the data directory.
	IconsFile string `yaml:"icons_file"`

	// RunTimeout bounds a single provisioning run.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// ProbeTimeout bounds a full icon refresh.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

func (c *Config) defaults() {
	if c.RunTimeout == 0 {
		c.RunTimeout = defaultRunTimeout
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
}

func (c *Config) validate() error {
	if c.RunTimeout < time.Minute {
		return errors.New("assistant: run_timeout must be at least 1m")
	}
	if c.ProbeTimeout < time.Minute {
		return errors.New("assistant: probe_timeout must be at least 1m")
	}
	return nil
}
