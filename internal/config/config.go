package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidLogLevel = errors.New("config: invalid agent log level")
	ErrInvalidWorkPath = errors.New("config: node work path must be absolute")
)

// agentLogLevels are the verbosities the remote agent accepts.
var agentLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Config is the resolved kitchen configuration: file keys layered onto
// Default(), CLI flags layered on top of that.
type Config struct {
	// Agent invocation.
	LogLevel   string
	EnableLogs bool
	WhyRun     bool

	// Remote layout.
	NodeWorkPath           string
	EncryptedDataBagSecret string

	// Run scheduling.
	Parallel bool

	// Transfer.
	FollowSymlinks              bool
	SSHUser                     string
	SSHPort                     string
	SSHKeyPath                  string
	KnownHostsPath              string
	SSHConfigPath               string
	InsecureSkipHostKeyChecking bool
	ConnectTimeout              time.Duration

	// Status surface (optional).
	StatusAddr  string
	CorsOrigins []string
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	return Config{
		LogLevel:       "info",
		EnableLogs:     true,
		NodeWorkPath:   "/tmp/chef-solo",
		Parallel:       false,
		SSHUser:        "root",
		ConnectTimeout: 30 * time.Second,
	}
}

func (c *Config) Validate() error {
	level := strings.TrimSpace(c.LogLevel)
	if _, ok := agentLogLevels[level]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	if !strings.HasPrefix(c.NodeWorkPath, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidWorkPath, c.NodeWorkPath)
	}
	if strings.TrimSpace(c.SSHUser) == "" {
		return errors.New("config: ssh user is required")
	}
	return nil
}
