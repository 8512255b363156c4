package reconcile

import (
	"fmt"
)

// State is owned by the poll loop for its whole lifetime. ZoneID, RecordID and
// RecordName are fixed at startup; LastKnownIP only moves after the provider
// has accepted an update.
type State struct {
	ZoneID      string
	RecordID    string
	RecordName  string
	LastKnownIP string
}

// Outcome is the result of one poll cycle and selects the next delay.
type Outcome int

const (
	Unchanged Outcome = iota
	Updated
	ResolutionFailed
	UpdateFailed
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Updated:
		return "updated"
	case ResolutionFailed:
		return "resolution_failed"
	case UpdateFailed:
		return "update_failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Failed reports whether the cycle should be retried sooner than normal.
func (o Outcome) Failed() bool {
	return o == ResolutionFailed || o == UpdateFailed
}

type StartupKind int

const (
	ProviderUnreachable StartupKind = iota
	ZoneNotFound
	RecordNotFound
)

func (k StartupKind) String() string {
	switch k {
	case ZoneNotFound:
		return "zone not found"
	case RecordNotFound:
		return "record not found"
	default:
		return "provider unreachable"
	}
}

// StartupError is fatal: without a zone and record identity the loop cannot run.
type StartupError struct {
	Kind StartupKind
	Err  error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed (%s): %v", e.Kind, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}
