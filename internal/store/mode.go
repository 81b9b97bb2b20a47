package store

import (
	"strings"

	"github.com/dusk-indust/cohortgraph/internal/faults"
)

// Mode selects the write strategy of an Adapter. It is fixed for the
// lifetime of the adapter.
type Mode int

const (
	// Direct applies every write immediately; queries see it at once.
	Direct Mode = iota
	// Buffered accumulates writes and applies them atomically on Flush.
	Buffered
	// Bulk accumulates writes and hands them to the engine's bulk loader on
	// Flush. Validation and endpoint checks are deferred to that point.
	Bulk
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Buffered:
		return "buffered"
	case Bulk:
		return "bulk"
	default:
		return "unknown"
	}
}

// ParseMode maps a configuration value to a Mode. The empty string selects
// Direct.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct":
		return Direct, nil
	case "buffered":
		return Buffered, nil
	case "bulk":
		return Bulk, nil
	default:
		return 0, faults.New(faults.UnsupportedBackend, "unknown store mode %q", s)
	}
}
