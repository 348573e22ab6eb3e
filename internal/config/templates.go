package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors the keys of config.toml. The CLI decodes it with
// key-presence tracking so unset keys keep their defaults; the template
// writer marshals it back out.
type FileConfig struct {
	LogLevel                    string   `toml:"loglevel"`
	EnableLogs                  bool     `toml:"enable_logs"`
	NodeWorkPath                string   `toml:"node_work_path"`
	EncryptedDataBagSecret      string   `toml:"encrypted_data_bag_secret,omitempty"`
	Parallel                    bool     `toml:"parallel"`
	FollowSymlinks              bool     `toml:"follow_symlinks"`
	SSHUser                     string   `toml:"ssh_user"`
	SSHPort                     string   `toml:"ssh_port,omitempty"`
	SSHKeyPath                  string   `toml:"ssh_key_path,omitempty"`
	KnownHostsPath              string   `toml:"known_hosts_path,omitempty"`
	SSHConfigPath               string   `toml:"ssh_config_path,omitempty"`
	InsecureSkipHostKeyChecking bool     `toml:"insecure_skip_host_key_checking"`
	ConnectTimeout              string   `toml:"connect_timeout"`
	StatusAddr                  string   `toml:"status_addr,omitempty"`
	CorsOrigins                 []string `toml:"cors_origins,omitempty"`
}

// TemplateFile is the starter config rendered by -init-config.
func TemplateFile() FileConfig {
	def := Default()
	return FileConfig{
		LogLevel:       def.LogLevel,
		EnableLogs:     def.EnableLogs,
		NodeWorkPath:   def.NodeWorkPath,
		Parallel:       def.Parallel,
		FollowSymlinks: def.FollowSymlinks,
		SSHUser:        def.SSHUser,
		ConnectTimeout: def.ConnectTimeout.Round(time.Second).String(),
	}
}

// WriteTemplate writes a starter config.toml. Refuses to clobber an
// existing file unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	data, err := toml.Marshal(TemplateFile())
	if err != nil {
		return fmt.Errorf("render config template: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
