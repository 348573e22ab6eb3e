package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mquintal/kitchenctl/internal/config"
)

// loadRunConfig layers config.toml onto the built-in defaults. Only
// keys actually present in the file override; a missing file is not an
// error, the defaults stand.
func loadRunConfig(path string) (config.Config, error) {
	cfg := config.Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var raw config.FileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.Config{}, fmt.Errorf("load kitchen config: %w", err)
	}

	if meta.IsDefined("loglevel") {
		if level := strings.TrimSpace(raw.LogLevel); level != "" {
			cfg.LogLevel = level
		}
	}
	if meta.IsDefined("enable_logs") {
		cfg.EnableLogs = raw.EnableLogs
	}
	if meta.IsDefined("node_work_path") {
		if p := strings.TrimSpace(raw.NodeWorkPath); p != "" {
			cfg.NodeWorkPath = p
		}
	}
	if meta.IsDefined("encrypted_data_bag_secret") {
		cfg.EncryptedDataBagSecret = strings.TrimSpace(raw.EncryptedDataBagSecret)
	}
	if meta.IsDefined("parallel") {
		cfg.Parallel = raw.Parallel
	}
	if meta.IsDefined("follow_symlinks") {
		cfg.FollowSymlinks = raw.FollowSymlinks
	}
	if meta.IsDefined("ssh_user") {
		if user := strings.TrimSpace(raw.SSHUser); user != "" {
			cfg.SSHUser = user
		}
	}
	if meta.IsDefined("ssh_port") {
		cfg.SSHPort = strings.TrimSpace(raw.SSHPort)
	}
	if meta.IsDefined("ssh_key_path") {
		cfg.SSHKeyPath = strings.TrimSpace(raw.SSHKeyPath)
	}
	if meta.IsDefined("known_hosts_path") {
		cfg.KnownHostsPath = strings.TrimSpace(raw.KnownHostsPath)
	}
	if meta.IsDefined("ssh_config_path") {
		cfg.SSHConfigPath = strings.TrimSpace(raw.SSHConfigPath)
	}
	if meta.IsDefined("insecure_skip_host_key_checking") {
		cfg.InsecureSkipHostKeyChecking = raw.InsecureSkipHostKeyChecking
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return config.Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}

	return cfg, nil
}
