// Package refcoord is a reference command.Coordinator for cmd/beamwalk: a
// real (not fake) in-process implementation that actually waits on context
// cancellation and logs every dispatched command, as opposed to
// internal/testutil's synchronous no-delay fakes built purely to exercise
// control-flow in unit tests. Grounded on the teacher's run-engine dispatch
// loop shape (one coordinator owns device I/O plus a running sequence
// number for emitted documents) adapted from a callback-subscription model
// to command.Coordinator's direct-call model.
package refcoord

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/beamctrl/walker/pkg/command"
	"github.com/beamctrl/walker/pkg/device"
)

// Coordinator drives real device.Readable/Movable/Insertable collaborators,
// tracking the members of each group token with a WaitGroup (grouped moves
// themselves run concurrently) and logging every command it dispatches.
type Coordinator struct {
	log zerolog.Logger

	mu     sync.Mutex
	groups map[string]*groupState
	seq    int
}

type groupState struct {
	wg  sync.WaitGroup
	mu  sync.Mutex
	err error
}

// New returns a Coordinator that logs through log.
func New(log zerolog.Logger) *Coordinator {
	return &Coordinator{log: log, groups: make(map[string]*groupState)}
}

func (c *Coordinator) group(token string) *groupState {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[token]
	if !ok {
		g = &groupState{}
		c.groups[token] = g
	}
	return g
}

func (c *Coordinator) TriggerAndRead(ctx context.Context, sources []device.Readable) (device.Sample, error) {
	for _, s := range sources {
		c.log.Debug().Str("source", s.Name()).Msg("trigger")
		if err := s.Trigger(ctx); err != nil {
			return nil, err
		}
	}
	merged := make(device.Sample)
	for _, s := range sources {
		sample, err := s.Read(ctx)
		if err != nil {
			return nil, err
		}
		for field, v := range sample {
			merged[s.Name()+"_"+field] = v
		}
	}
	c.log.Debug().Int("fields", len(merged)).Msg("read")
	return merged, nil
}

func (c *Coordinator) SetGrouped(ctx context.Context, token string, motor device.Movable, target float64) error {
	g := c.group(token)
	g.wg.Add(1)
	defer g.wg.Done()

	c.log.Debug().Str("motor", motor.Name()).Float64("target", target).Str("group", token).Msg("set grouped")
	if err := motor.Set(ctx, target); err != nil {
		g.mu.Lock()
		if g.err == nil {
			g.err = err
		}
		g.mu.Unlock()
		return err
	}
	return nil
}

func (c *Coordinator) SetInsertGrouped(ctx context.Context, token string, ins device.Insertable, state device.InsertState) error {
	g := c.group(token)
	g.wg.Add(1)
	defer g.wg.Done()

	c.log.Debug().Str("insertable", ins.Name()).Str("state", string(state)).Str("group", token).Msg("set insert grouped")
	if err := ins.SetState(ctx, state); err != nil {
		g.mu.Lock()
		if g.err == nil {
			g.err = err
		}
		g.mu.Unlock()
		return err
	}
	return nil
}

func (c *Coordinator) WaitGroup(ctx context.Context, token string) error {
	g := c.group(token)
	g.wg.Wait()

	c.mu.Lock()
	delete(c.groups, token)
	c.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (c *Coordinator) SetMotor(ctx context.Context, motor device.Movable, target float64) error {
	c.log.Debug().Str("motor", motor.Name()).Float64("target", target).Msg("set")
	return motor.Set(ctx, target)
}

func (c *Coordinator) SetInsert(ctx context.Context, ins device.Insertable, state device.InsertState) error {
	c.log.Debug().Str("insertable", ins.Name()).Str("state", string(state)).Msg("set insert")
	return ins.SetState(ctx, state)
}

func (c *Coordinator) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Coordinator) Save(ctx context.Context, doc any) error {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	c.log.Info().Int("seq", seq).Interface("doc", doc).Msg("save")
	return nil
}

func (c *Coordinator) Checkpoint(ctx context.Context) {
	c.log.Debug().Msg("checkpoint")
}

var _ command.Coordinator = (*Coordinator)(nil)
