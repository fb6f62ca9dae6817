package trigger

import (
	"context"
	"sync"
	"time"

	"syncbridge/internal/engine"
	"syncbridge/internal/wire"
)

// State is the commit phase of a Coordinator.
type State int

const (
	StateIdle State = iota
	StateCommitting
	StateCommitted
)

func (s State) String() string {
	switch s {
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	default:
		return "idle"
	}
}

// Pipeline holds what every coordinator shares: the rule table and the
// executor. Both are safe for concurrent use.
type Pipeline struct {
	rules    RuleSource
	executor *Executor
	now      func() time.Time
}

func NewPipeline(rules RuleSource, executor *Executor) *Pipeline {
	return &Pipeline{rules: rules, executor: executor, now: time.Now}
}

// Hooks is an engine.HookFactory: one coordinator per unit of work.
func (p *Pipeline) Hooks() []engine.CommitHook {
	return []engine.CommitHook{p.NewCoordinator()}
}

func (p *Pipeline) NewCoordinator() *Coordinator {
	return &Coordinator{pipeline: p}
}

type snapshotKey struct{}

// Coordinator takes the change snapshot before a unit of work flushes and
// dispatches it only once the commit is durable.
type Coordinator struct {
	pipeline *Pipeline

	mu    sync.Mutex
	state State
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// BeforeCommit runs after validation has passed.
func (c *Coordinator) BeforeCommit(ctx context.Context, op *engine.CommitOperation) error {
	c.setState(StateCommitting)
	op.Set(snapshotKey{}, CaptureChanges(op.UnitOfWork))
	return nil
}

func (c *Coordinator) AfterCommit(ctx context.Context, op *engine.CommitOperation) {
	changes, _ := op.Get(snapshotKey{}).([]Change)
	op.Set(snapshotKey{}, nil)
	c.setState(StateCommitted)
	c.dispatch(ctx, changes)
	c.setState(StateIdle)
}

// AbortCommit discards the snapshot; nothing was written.
func (c *Coordinator) AbortCommit(ctx context.Context, op *engine.CommitOperation) {
	op.Set(snapshotKey{}, nil)
	c.setState(StateIdle)
}

func (c *Coordinator) dispatch(ctx context.Context, changes []Change) {
	p := c.pipeline
	for _, ch := range changes {
		var data map[string]any
		if ch.Event != wire.EventDeleted {
			data = BuildData(ch.Object)
		}
		for _, rule := range MatchRules(p.rules, ch.Object.Entity, ch.Event, data) {
			payload := BuildPayload(ch.Object, ch.Event, rule.Name, p.now())
			p.executor.Execute(ctx, rule, payload)
		}
	}
}
