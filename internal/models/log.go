package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultLogSource is used when a log entry does not name its origin.
const DefaultLogSource = "system"

// LogLevel is the severity of a log entry.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarn    LogLevel = "warn"
	LogLevelError   LogLevel = "error"
	LogLevelSuccess LogLevel = "success"
)

// LogLevels lists every valid level in display order.
var LogLevels = []LogLevel{
	LogLevelDebug,
	LogLevelInfo,
	LogLevelWarn,
	LogLevelError,
	LogLevelSuccess,
}

// Valid reports whether l is one of the known levels.
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelSuccess:
		return true
	default:
		return false
	}
}

func (l LogLevel) String() string {
	return string(l)
}

// ParseLogLevel parses a level name case-insensitively.
// "warning" is accepted as an alias of warn.
func ParseLogLevel(s string) (LogLevel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warning" {
		return LogLevelWarn, nil
	}
	l := LogLevel(name)
	if !l.Valid() {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// LogEntry represents a single log line emitted during a deployment.
type LogEntry struct {
	ID           string         `json:"id"`
	DeploymentID string         `json:"deployment_id"`
	ProjectID    string         `json:"project_id"`
	Level        LogLevel       `json:"level"`
	Message      string         `json:"message"`
	Source       string         `json:"source"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// LessLogEntry reports whether a sorts before b: by timestamp, ties broken by ID.
func LessLogEntry(a, b *LogEntry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

// CompareLogEntries is the three-way form of LessLogEntry, for slices.SortFunc.
func CompareLogEntries(a, b *LogEntry) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
