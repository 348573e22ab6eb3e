package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mquintal/kitchenctl/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRunConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadRunConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := config.Default()
	if cfg.LogLevel != def.LogLevel || cfg.NodeWorkPath != def.NodeWorkPath {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRunConfigOnlyPresentKeysOverride(t *testing.T) {
	path := writeConfig(t, `
loglevel = "debug"
parallel = true
ssh_user = "deploy"
`)
	cfg, err := loadRunConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("loglevel: %s", cfg.LogLevel)
	}
	if !cfg.Parallel {
		t.Fatal("parallel not applied")
	}
	if cfg.SSHUser != "deploy" {
		t.Fatalf("ssh_user: %s", cfg.SSHUser)
	}
	// Keys absent from the file keep their defaults.
	def := config.Default()
	if cfg.NodeWorkPath != def.NodeWorkPath {
		t.Fatalf("node_work_path: %s", cfg.NodeWorkPath)
	}
	if cfg.EnableLogs != def.EnableLogs {
		t.Fatalf("enable_logs: %v", cfg.EnableLogs)
	}
	if cfg.ConnectTimeout != def.ConnectTimeout {
		t.Fatalf("connect_timeout: %v", cfg.ConnectTimeout)
	}
}

func TestLoadRunConfigExplicitFalseOverridesDefault(t *testing.T) {
	path := writeConfig(t, `enable_logs = false`)
	cfg, err := loadRunConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EnableLogs {
		t.Fatal("explicit false did not override default true")
	}
}

func TestLoadRunConfigConnectTimeout(t *testing.T) {
	path := writeConfig(t, `connect_timeout = "90s"`)
	cfg, err := loadRunConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConnectTimeout != 90*time.Second {
		t.Fatalf("connect_timeout: %v", cfg.ConnectTimeout)
	}

	path = writeConfig(t, `connect_timeout = "ninety"`)
	if _, err := loadRunConfig(path); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestLoadRunConfigEmptyStringsKeepDefaults(t *testing.T) {
	path := writeConfig(t, `
loglevel = ""
ssh_user = ""
node_work_path = ""
`)
	cfg, err := loadRunConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := config.Default()
	if cfg.LogLevel != def.LogLevel || cfg.SSHUser != def.SSHUser || cfg.NodeWorkPath != def.NodeWorkPath {
		t.Fatalf("blank keys clobbered defaults: %+v", cfg)
	}
}
