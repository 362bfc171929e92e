package services

import (
	log "github.com/sirupsen/logrus"
)

// wrapper make the logrus logger a LeveledLogger
type LogrusLogger struct {
	Entry *log.Entry
}

func (l LogrusLogger) Error(msg string, keysAndValues ...any) {
	l.Entry.WithFields(fields(keysAndValues)).Error(msg)
}

func (l LogrusLogger) Info(msg string, keysAndValues ...any) {
	l.Entry.WithFields(fields(keysAndValues)).Info(msg)
}

// retryablehttp logs every attempt at debug, which is closer to trace for us
func (l LogrusLogger) Debug(msg string, keysAndValues ...any) {
	l.Entry.WithFields(fields(keysAndValues)).Trace(msg)
}

func (l LogrusLogger) Warn(msg string, keysAndValues ...any) {
	l.Entry.WithFields(fields(keysAndValues)).Warn(msg)
}

func fields(keysAndValues []any) log.Fields {
	f := make(log.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		f[key] = keysAndValues[i+1]
	}
	return f
}
