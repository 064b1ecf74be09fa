// Package logging configures logrus and carries a request-scoped entry
// through context.Context.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

// New returns a logger writing to out (stderr when nil).  format is
// "json" or "text"; unknown levels fall back to info.
func New(level, format string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(out)
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// ToContext attaches log to ctx.
func ToContext(ctx context.Context, log logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger stored in ctx, or fallback.
func FromContext(ctx context.Context, fallback logrus.FieldLogger) logrus.FieldLogger {
	if l, ok := ctx.Value(ctxKey{}).(logrus.FieldLogger); ok && l != nil {
		return l
	}
	if fallback == nil {
		return logrus.StandardLogger()
	}
	return fallback
}
