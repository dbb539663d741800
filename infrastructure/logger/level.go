package logger

import "strings"

// Level denotes a logging verbosity. Messages below a subsystem's configured
// level are discarded before they reach the backend.
type Level uint32

// Levels, ordered from most to least verbose.
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
	LevelOff
)

// levelTags holds the three-letter tag each level is written with.
var levelTags = [...]string{"TRC", "DBG", "INF", "WRN", "ERR", "CRT", "OFF"}

// LevelFromString parses a level name, accepting both the full name ("debug")
// and the three-letter tag ("dbg"). Unrecognized input reports false alongside
// the info level.
func LevelFromString(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case "trace", "trc":
		return LevelTrace, true
	case "debug", "dbg":
		return LevelDebug, true
	case "info", "inf":
		return LevelInfo, true
	case "warn", "wrn":
		return LevelWarn, true
	case "error", "err":
		return LevelError, true
	case "critical", "crt":
		return LevelCritical, true
	case "off":
		return LevelOff, true
	default:
		return LevelInfo, false
	}
}

// String returns the tag written in log lines, or "OFF" for a level that
// produces no output.
func (l Level) String() string {
	if l >= LevelOff {
		return "OFF"
	}
	return levelTags[l]
}
