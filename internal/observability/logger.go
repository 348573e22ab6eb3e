package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mquintal/kitchenctl/internal/logging"
)

// InitLogger builds the root console logger and installs it as the
// global logger. Per-host workflow loggers derive from it with
// HostLogger so parallel output stays attributable.
func InitLogger(app string, level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    logging.NoColor(),
	}
	ctx := zerolog.New(output).Level(level).With().Str("app", app)
	if logging.Timestamps() {
		ctx = ctx.Timestamp()
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}

// HostLogger returns a sublogger carrying the host name on every line.
func HostLogger(base zerolog.Logger, host string) zerolog.Logger {
	return base.With().Str("host", host).Logger()
}
