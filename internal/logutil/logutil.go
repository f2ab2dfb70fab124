// Package logutil adapts cmd/hook/main.go's logrusutil.NewDefaultFieldsFormatter
// usage (referenced there but not vendored into the pack) into a small
// local formatter: every log line carries a fixed set of fields (component,
// and any caller-supplied defaults) in addition to whatever the call site
// adds with WithField.
package logutil

import (
	"github.com/sirupsen/logrus"
)

// DefaultFieldsFormatter wraps an underlying formatter, injecting a fixed
// set of default fields into every entry that doesn't already set them.
type DefaultFieldsFormatter struct {
	Wrapped logrus.Formatter
	Defaults logrus.Fields
}

// NewDefaultFieldsFormatter builds a formatter that always stamps defaults
// onto every entry before delegating to wrapped.
func NewDefaultFieldsFormatter(wrapped logrus.Formatter, defaults logrus.Fields) *DefaultFieldsFormatter {
	if wrapped == nil {
		wrapped = &logrus.JSONFormatter{}
	}
	return &DefaultFieldsFormatter{Wrapped: wrapped, Defaults: defaults}
}

// Format implements logrus.Formatter.
func (f *DefaultFieldsFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	for k, v := range f.Defaults {
		if _, set := entry.Data[k]; !set {
			entry.Data[k] = v
		}
	}
	return f.Wrapped.Format(entry)
}
