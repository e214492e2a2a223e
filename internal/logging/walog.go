package logging

import (
	"go.uber.org/zap"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// WALogger bridges whatsmeow's logger interface onto zap.
type WALogger struct {
	sugar *zap.SugaredLogger
}

var _ waLog.Logger = (*WALogger)(nil)

// NewWALogger returns a whatsmeow logger tagged with the given module name.
func NewWALogger(logger *zap.Logger, module string) *WALogger {
	return &WALogger{sugar: logger.Named(module).Sugar()}
}

func (l *WALogger) Warnf(msg string, args ...interface{})  { l.sugar.Warnf(msg, args...) }
func (l *WALogger) Errorf(msg string, args ...interface{}) { l.sugar.Errorf(msg, args...) }
func (l *WALogger) Infof(msg string, args ...interface{})  { l.sugar.Infof(msg, args...) }
func (l *WALogger) Debugf(msg string, args ...interface{}) { l.sugar.Debugf(msg, args...) }

func (l *WALogger) Sub(module string) waLog.Logger {
	return &WALogger{sugar: l.sugar.Named(module)}
}
