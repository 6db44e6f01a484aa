// Package command models the cooperative control-loop plan as a stream of
// typed commands handed to an outer run coordinator, instead of the core
// calling devices directly. This mirrors the teacher's split between a
// plan/intent layer and the transport that actually moves bytes: the core
// packages in this module (measure, walk, iterwalk, recovery) issue each
// command by calling the matching Coordinator method; a real coordinator
// talking to device I/O is an external collaborator.
package command

import (
	"context"
	"time"

	"github.com/beamctrl/walker/pkg/device"
)

// Kind tags the variant held by a Command.
type Kind int

const (
	Trigger Kind = iota
	Wait
	Set
	Read
	Save
	Sleep
	Checkpoint
)

func (k Kind) String() string {
	switch k {
	case Trigger:
		return "trigger"
	case Wait:
		return "wait"
	case Set:
		return "set"
	case Read:
		return "read"
	case Save:
		return "save"
	case Sleep:
		return "sleep"
	case Checkpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Command is a record form of one suspension point. No package in this
// module builds Command values: the plan calls Coordinator methods
// directly.
type Command struct {
	Kind Kind

	Source device.Readable

	Motor  device.Movable
	Target float64
	Insert device.Insertable
	State  device.InsertState
	Group  string

	Doc any

	Duration time.Duration
}

// Coordinator executes the command stream and owns all device I/O,
// suspender hooks, and callback subscriptions (e.g. fit.LinearFit event
// feeds, progress reporting). The core never talks to a device directly;
// it only ever calls methods on a Coordinator.
type Coordinator interface {
	// TriggerAndRead triggers every source, waits for all triggers to
	// complete, then reads and merges one combined sample keyed
	// "<device>_<field>".
	TriggerAndRead(ctx context.Context, sources []device.Readable) (device.Sample, error)

	// SetGrouped issues a motor move under a group token without waiting
	// for completion; pair with WaitGroup.
	SetGrouped(ctx context.Context, group string, motor device.Movable, target float64) error

	// SetInsertGrouped issues an imager state change under a group token
	// without waiting for completion; pair with WaitGroup.
	SetInsertGrouped(ctx context.Context, group string, ins device.Insertable, state device.InsertState) error

	// WaitGroup blocks until every member of a group token completes.
	WaitGroup(ctx context.Context, group string) error

	// SetMotor issues a single move and waits for completion.
	SetMotor(ctx context.Context, motor device.Movable, target float64) error

	// SetInsert issues a single imager state change and waits for completion.
	SetInsert(ctx context.Context, ins device.Insertable, state device.InsertState) error

	// Sleep suspends for the given duration, honoring ctx cancellation.
	Sleep(ctx context.Context, d time.Duration) error

	// Save emits a document (StartDoc, EventDoc, or any other record) to
	// the outer event stream.
	Save(ctx context.Context, doc any) error

	// Checkpoint marks a rewind boundary. A no-op for coordinators that
	// don't support suspend/resume, but it must still be called at every
	// point spec.md §5 requires one, since external suspenders key off it.
	Checkpoint(ctx context.Context)
}

// StartDoc is emitted once per run: enough metadata to reconstruct it later.
type StartDoc struct {
	Detectors []string       `json:"detectors"`
	Motors    []string       `json:"mirrors"`
	Goals     []float64      `json:"goals"`
	PlanArgs  map[string]any `json:"plan_args"`
}

// EventDoc is emitted once per measurement iteration.
type EventDoc struct {
	Seq    int            `json:"seq"`
	Fields device.Sample  `json:"fields"`
	Extra  map[string]any `json:"extra,omitempty"`
}
