// Package logging provides the process-wide structured logger used by every
// MgxMonitor component. It is a thin wrapper over logrus, configured once at
// startup and passed explicitly into constructors rather than looked up from
// a package-level global.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Entry tagged with component, writing JSON lines to
// dest ("console" or a file path) at the given level (DEBUG/INFO/WARN/ERROR,
// case-insensitive; unrecognized values fall back to INFO).
func New(component, level, dest string) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	log.SetOutput(resolveOutput(dest))

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log.WithField("component", component)
}

func resolveOutput(dest string) io.Writer {
	if dest == "" || dest == "console" {
		return os.Stdout
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stdout
	}
	return f
}

// RedactToken masks a credential/session token for safe logging, showing
// only the first 8 characters.
func RedactToken(t string) string {
	if len(t) == 0 {
		return "[empty]"
	}
	if len(t) <= 8 {
		return t[:1] + "..."
	}
	return t[:8] + "..."
}

// RedactPath masks the middle of a filesystem path longer than 24
// characters, keeping its first 8 and last 16 characters visible for log
// correlation without leaking a full uploader path.
func RedactPath(p string) string {
	if len(p) <= 24 {
		return p
	}
	return p[:8] + "..." + p[len(p)-16:]
}
