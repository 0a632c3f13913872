package logger

import "go.uber.org/zap"

// Leveled adapts the process logger to the key/value logger interface used by
// hashicorp/go-retryablehttp (retryablehttp.LeveledLogger).
type Leveled struct {
	name string
}

// NewLeveled returns a Leveled logger whose entries are tagged with name.
func NewLeveled(name string) *Leveled {
	return &Leveled{name: name}
}

func (l *Leveled) sugar() *zap.SugaredLogger {
	return Named(l.name).Sugar()
}

func (l *Leveled) Error(msg string, keysAndValues ...interface{}) {
	l.sugar().Errorw(msg, keysAndValues...)
}

func (l *Leveled) Info(msg string, keysAndValues ...interface{}) {
	l.sugar().Infow(msg, keysAndValues...)
}

func (l *Leveled) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar().Debugw(msg, keysAndValues...)
}

func (l *Leveled) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar().Warnw(msg, keysAndValues...)
}
