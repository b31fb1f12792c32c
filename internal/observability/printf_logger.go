package observability

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// PrintfLogger adapts zerolog to the Printf-style logger interfaces used by
// kafka-go (kafka.Logger) and golang-migrate (migrate.Logger).
type PrintfLogger struct {
	logger  zerolog.Logger
	level   zerolog.Level
	verbose bool
}

// NewPrintfLogger creates a PrintfLogger that writes every message at level,
// tagging entries with the given component name.
func NewPrintfLogger(logger zerolog.Logger, component string, level zerolog.Level) *PrintfLogger {
	return &PrintfLogger{
		logger:  logger.With().Str("component", component).Logger(),
		level:   level,
		verbose: logger.GetLevel() <= zerolog.DebugLevel,
	}
}

// Printf logs a formatted message.
func (l *PrintfLogger) Printf(format string, v ...interface{}) {
	l.logger.WithLevel(l.level).Msg(strings.TrimRight(fmt.Sprintf(format, v...), "\n"))
}

// Verbose reports whether debug output is enabled.
func (l *PrintfLogger) Verbose() bool {
	return l.verbose
}
