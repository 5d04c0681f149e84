package locksvc

import (
	"fmt"
	"log/slog"
	"strings"
)

// Datastore identifies one of the lockable configuration stores.
type Datastore string

const (
	DatastoreStartup   Datastore = "startup"
	DatastoreRunning   Datastore = "running"
	DatastoreCandidate Datastore = "candidate"
)

// ParseDatastore validates a datastore name.
func ParseDatastore(s string) (Datastore, error) {
	switch ds := Datastore(strings.ToLower(strings.TrimSpace(s))); ds {
	case DatastoreStartup, DatastoreRunning, DatastoreCandidate:
		return ds, nil
	}
	return "", fmt.Errorf("unknown datastore %q: must be one of startup, running, candidate", s)
}

// ConnMode selects how a connection reaches the service.
type ConnMode string

const (
	ConnDefault        ConnMode = "default"
	ConnDaemonRequired ConnMode = "daemon-required"
	ConnLocal          ConnMode = "local"
)

// ParseConnMode validates a connection mode name. Empty means ConnDefault.
func ParseConnMode(s string) (ConnMode, error) {
	if strings.TrimSpace(s) == "" {
		return ConnDefault, nil
	}
	switch m := ConnMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ConnDefault, ConnDaemonRequired, ConnLocal:
		return m, nil
	}
	return "", fmt.Errorf("unknown connection mode %q: must be one of default, daemon-required, local", s)
}

// LogLevel is the diagnostic verbosity of a service.
type LogLevel string

const (
	LogNone    LogLevel = "none"
	LogError   LogLevel = "error"
	LogWarning LogLevel = "warning"
	LogInfo    LogLevel = "info"
	LogDebug   LogLevel = "debug"
)

// ParseLogLevel validates a log level name. Empty means LogInfo.
func ParseLogLevel(s string) (LogLevel, error) {
	switch l := LogLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LogInfo, nil
	case LogNone, LogError, LogWarning, LogInfo, LogDebug:
		return l, nil
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

// SlogLevel maps a LogLevel onto slog. LogNone maps above every level slog emits.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogNone:
		return slog.LevelError + 4
	case LogError:
		return slog.LevelError
	case LogWarning:
		return slog.LevelWarn
	case LogDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Key addresses one lock. An empty Module is the whole-datastore lock.
type Key struct {
	Datastore Datastore
	Module    string
}

// IsDatastore reports whether k is the whole-datastore lock.
func (k Key) IsDatastore() bool {
	return k.Module == ""
}

func (k Key) String() string {
	if k.IsDatastore() {
		return string(k.Datastore)
	}
	return string(k.Datastore) + "/" + k.Module
}
