package logging

import (
	alog "github.com/lesismal/arpc/log"
	"github.com/rs/zerolog"
)

// ALogAdapter routes arpc's internal logging through zerolog.
type ALogAdapter struct {
	logger zerolog.Logger
}

func NewALogAdapter(logger zerolog.Logger) *ALogAdapter {
	return &ALogAdapter{logger: logger.With().Str("layer", "arpc").Logger()}
}

// Install makes a the process-wide arpc logger.
func (a *ALogAdapter) Install() {
	alog.DefaultLogger = a
}

func (a *ALogAdapter) SetLevel(level int) {
	switch level {
	case alog.LevelDebug:
		a.logger = a.logger.Level(zerolog.DebugLevel)
	case alog.LevelInfo:
		a.logger = a.logger.Level(zerolog.InfoLevel)
	case alog.LevelWarn:
		a.logger = a.logger.Level(zerolog.WarnLevel)
	case alog.LevelError:
		a.logger = a.logger.Level(zerolog.ErrorLevel)
	}
}

func (a *ALogAdapter) Debug(format string, v ...interface{}) {
	a.logger.Debug().Msgf(format, v...)
}

func (a *ALogAdapter) Info(format string, v ...interface{}) {
	a.logger.Info().Msgf(format, v...)
}

func (a *ALogAdapter) Warn(format string, v ...interface{}) {
	a.logger.Warn().Msgf(format, v...)
}

func (a *ALogAdapter) Error(format string, v ...interface{}) {
	a.logger.Error().Msgf(format, v...)
}
