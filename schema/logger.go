package schema

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the schema package's logger. It is a no-op logger unless
// SetLogger was called. The builder logs schema-compile notices through it,
// such as a schema turning out to be JSON-incompatible.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the schema package's logger. Call it before any
// schemas are compiled.
func SetLogger(l *zap.Logger) {
	logger = l
}
