package domain

import (
	"reflect"
	"time"
)

// HostEntry is one row of the host table: a container identity bound to its
// validated proxy intent and the compose file that produced it.
type HostEntry struct {
	Identity       string      `json:"identity"`
	Intent         ProxyIntent `json:"intent"`
	SourceFilePath string      `json:"sourceFilePath"`
	// SourceFileSnapshot is the parsed compose document, retained so a
	// content change in the file is detected even when the intent itself
	// is unchanged.
	SourceFileSnapshot map[string]any  `json:"-"`
	LastChangedAt      time.Time       `json:"lastChangedAt"`
	StateFlags         map[string]bool `json:"stateFlags,omitempty"`
}

// ContentEquals reports whether everything except the timestamp matches.
func (e HostEntry) ContentEquals(other HostEntry) bool {
	return e.Identity == other.Identity &&
		e.SourceFilePath == other.SourceFilePath &&
		reflect.DeepEqual(e.Intent, other.Intent) &&
		reflect.DeepEqual(e.SourceFileSnapshot, other.SourceFileSnapshot) &&
		reflect.DeepEqual(e.StateFlags, other.StateFlags)
}

// ManifestEntry is one container with a validated intent, as observed during
// a single discovery pass.
type ManifestEntry struct {
	Identity           string
	Intent             ProxyIntent
	SourceFilePath     string
	SourceFileSnapshot map[string]any
	DiscoveredAt       time.Time
}

// HostEventType tags a host table mutation.
type HostEventType int

const (
	HostAdded HostEventType = iota
	HostUpdated
	HostRemoved
)

func (t HostEventType) String() string {
	switch t {
	case HostAdded:
		return "added"
	case HostUpdated:
		return "updated"
	case HostRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// HostEvent is emitted by the host table on every effective mutation.
type HostEvent struct {
	Type  HostEventType
	Entry HostEntry
}
