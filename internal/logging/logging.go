// Package logging configures the process-wide logrus logger.
package logging

import (
	"context"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

type ctxKey struct{}

// Setup applies level and format to the standard logger. Unknown levels fall
// back to info; format is "json" or "text".
func Setup(level, format string) {
	log.SetOutput(os.Stdout)
	if strings.EqualFold(format, "text") {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

// WithEntry stores a request-scoped entry on the context.
func WithEntry(ctx context.Context, entry *log.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// FromContext returns the request-scoped entry or a bare entry on the
// standard logger.
func FromContext(ctx context.Context) *log.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*log.Entry); ok && entry != nil {
			return entry
		}
	}
	return log.NewEntry(log.StandardLogger())
}
