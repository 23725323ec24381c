package directory

import (
	"github.com/hashicorp/go-hclog"
)

// Logger is the structured logging interface used throughout the module.
type Logger interface {
	Trace(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// HCLogger adapts an hclog.Logger to the field-map logging interface.
type HCLogger struct {
	logger hclog.Logger
}

// NewLogger wraps an hclog.Logger for the given subsystem. A nil logger
// yields a logger writing to hclog's default output.
func NewLogger(logger hclog.Logger, subsystem string) *HCLogger {
	if logger == nil {
		logger = hclog.Default()
	}
	return &HCLogger{logger: logger.Named(subsystem)}
}

// With returns a logger that adds the given fields to every message.
func (l *HCLogger) With(fields map[string]any) *HCLogger {
	return &HCLogger{logger: l.logger.With(flatten(fields)...)}
}

func (l *HCLogger) Trace(msg string, fields map[string]any) {
	l.logger.Trace(msg, flatten(fields)...)
}

func (l *HCLogger) Debug(msg string, fields map[string]any) {
	l.logger.Debug(msg, flatten(fields)...)
}

func (l *HCLogger) Info(msg string, fields map[string]any) {
	l.logger.Info(msg, flatten(fields)...)
}

func (l *HCLogger) Warn(msg string, fields map[string]any) {
	l.logger.Warn(msg, flatten(fields)...)
}

func (l *HCLogger) Error(msg string, fields map[string]any) {
	l.logger.Error(msg, flatten(fields)...)
}

func flatten(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
