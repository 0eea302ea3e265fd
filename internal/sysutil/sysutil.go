// Package sysutil holds process-level helpers shared by config loading and
// the HTTP layer: log level setup and env-string predicates.
package sysutil

import (
	"strings"

	"github.com/rs/zerolog"
)

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
	"panic":   zerolog.PanicLevel,
}

// SetLogLevel sets the global zerolog level from its string name,
// case-insensitively. Empty or unknown values fall back to info.
func SetLogLevel(lvl string) {
	if l, ok := logLevels[strings.ToLower(strings.TrimSpace(lvl))]; ok {
		zerolog.SetGlobalLevel(l)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// IsTruthy reports whether an env-style string means "on": 1, true, yes, y,
// on, case-insensitive. Everything else, including empty, is false.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// FirstNonEmpty returns the first value that is not blank, unmodified, or ""
// when all are blank.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
