package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "KITCHENCTL_LOG_LEVEL"
	EnvLogTimestamp = "KITCHENCTL_LOG_TIMESTAMP"
	EnvLogNoColor   = "KITCHENCTL_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure applies the profile's zerolog defaults once per process,
// then environment overrides on top.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		switch profile {
		case ProfileTest:
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		default:
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
		if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
			zerolog.SetGlobalLevel(lvl)
		}
	})
}

// NoColor reports whether console color output is disabled by env.
func NoColor() bool {
	v, ok := parseBool(os.Getenv(EnvLogNoColor))
	return ok && v
}

// Timestamps reports whether log lines carry timestamps; defaults on.
func Timestamps() bool {
	v, ok := parseBool(os.Getenv(EnvLogTimestamp))
	if !ok {
		return true
	}
	return v
}

// ParseLevel maps the accepted level spellings onto zerolog levels.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
