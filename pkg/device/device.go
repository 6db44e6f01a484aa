// Package device declares the collaborator interfaces the controller core
// consumes: readable detectors, movable motors, and insertable imagers. The
// control-system transport that backs these interfaces (EPICS, simulated
// hardware, whatever) lives outside this module.
package device

import "context"

// InsertState is the position of an insertable imager.
type InsertState string

const (
	In    InsertState = "IN"
	Out   InsertState = "OUT"
	Diode InsertState = "DIODE"
)

// Field is one named scalar reading with its timestamp.
type Field struct {
	Value     float64
	Timestamp int64
}

// Sample is a snapshot of named fields read from one source at one instant.
type Sample map[string]Field

// Readable is a detector or any other scalar source the controller measures.
// Trigger must complete before Read returns data taken after the trigger;
// Read is non-destructive and may be called any number of times against the
// same triggered snapshot.
type Readable interface {
	Name() string
	Trigger(ctx context.Context) error
	Read(ctx context.Context) (Sample, error)
	Describe(ctx context.Context) (map[string]string, error)
}

// Movable is a motor the controller drives toward a commanded position.
// Set blocks (from the caller's point of view; in practice it suspends the
// command stream) until the move completes or fails.
type Movable interface {
	Name() string
	Position(ctx context.Context) (float64, error)
	// NominalPosition reports a configured rest position, if any. ok is
	// false when the motor has no nominal position configured.
	NominalPosition(ctx context.Context) (pos float64, ok bool)
	Set(ctx context.Context, target float64) error
	// Limits reports the motor's travel range, if bounded.
	Limits(ctx context.Context) (low, high float64, ok bool)
	// Stop halts an in-progress move, if the motor supports it.
	Stop(ctx context.Context) error
}

// Insertable is a detector's insertion actuator (imager IN/OUT/DIODE stage).
type Insertable interface {
	Name() string
	SetState(ctx context.Context, state InsertState) error
	State(ctx context.Context) (InsertState, error)
}
