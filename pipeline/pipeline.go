package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/chronoflow/clone"
	"github.com/c360/chronoflow/delivery"
	cerrors "github.com/c360/chronoflow/errors"
	"github.com/c360/chronoflow/metric"
	"github.com/c360/chronoflow/sched"
)

// defaultStopTimeout bounds fault-initiated shutdown.
const defaultStopTimeout = 30 * time.Second

// queueRef lets the pipeline inspect and drain a receiver's queue at stop
// without knowing its element type.
type queueRef struct {
	name      string
	unbounded bool
	depth     func() int
	clear     func() int
}

// Pipeline owns the component graph and runs it: one scheduler, one clock,
// one clone registry, and a fault list that shutdown aggregates into the
// terminal error.
type Pipeline struct {
	name          string
	id            string
	logger        *slog.Logger
	metricsReg    *metric.MetricsRegistry
	metrics       *pipelineMetrics
	cloneReg      *clone.Registry
	clock         *Clock
	defaultPolicy delivery.Policy
	workers       int

	sched *sched.Scheduler

	mu           sync.Mutex
	state        State
	components   []*Component
	byDomain     map[string]*Component
	closers      []func(ctx context.Context)
	queues       []queueRef
	faults       []ComponentFault
	nextSourceID int

	runCtx  context.Context
	cancel  context.CancelFunc
	drivers *errgroup.Group

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// New creates a pipeline in the Created state. The graph is assembled with
// AddComponent, NewEmitter, NewReceiver and Pipe before Start.
func New(name string, opts ...Option) *Pipeline {
	p := &Pipeline{
		name:          name,
		id:            uuid.NewString(),
		logger:        slog.Default(),
		clock:         SystemClock(),
		defaultPolicy: delivery.Unlimited(),
		byDomain:      map[string]*Component{},
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.cloneReg == nil {
		p.cloneReg = clone.NewRegistry()
	}

	if p.metricsReg != nil {
		p.metrics = newPipelineMetrics(p.metricsReg, p.logger)
	}

	schedOpts := []sched.Option{
		sched.WithLogger(p.logger.With("pipeline", name)),
		sched.WithPanicHandler(p.domainPanicked),
	}
	if p.workers > 0 {
		schedOpts = append(schedOpts, sched.WithWorkers(p.workers))
	}
	if p.metricsReg != nil {
		schedOpts = append(schedOpts, sched.WithMetrics(p.metricsReg))
	}
	p.sched = sched.New(schedOpts...)

	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// ID returns the unique run identity assigned at construction. It
// distinguishes instances that share a configured name, e.g. in logs and
// bridge wire messages.
func (p *Pipeline) ID() string {
	return p.id
}

// CloneRegistry returns the registry used to isolate queued deliveries.
// Application types needing permissions must be registered here before the
// first message of that type flows.
func (p *Pipeline) CloneRegistry() *clone.Registry {
	return p.cloneReg
}

// Clock returns the pipeline time source.
func (p *Pipeline) Clock() *Clock {
	return p.clock
}

// AddComponent creates a named component with its own synchronization
// domain, unless SameDomainAs places it in an existing one.
func (p *Pipeline) AddComponent(name string, opts ...ComponentOption) *Component {
	c := &Component{name: name, p: p}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.domain == nil {
		c.domain = p.sched.NewDomain(name)
	}

	p.mu.Lock()
	p.components = append(p.components, c)
	if _, taken := p.byDomain[c.domain.Name()]; !taken {
		p.byDomain[c.domain.Name()] = c
	}
	p.mu.Unlock()
	return c
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Faults returns a snapshot of the faults recorded so far.
func (p *Pipeline) Faults() []ComponentFault {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ComponentFault, len(p.faults))
	copy(out, p.faults)
	return out
}

// Done is closed when the pipeline reaches Stopped.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Start transitions Created to Running: the scheduler comes up and every
// registered driver is spawned on its own goroutine. When at least one
// driver was registered, the pipeline stops itself after all drivers
// return.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateCreated {
		p.mu.Unlock()
		return cerrors.WrapInvalid(cerrors.ErrAlreadyStarted, "Pipeline", "Start", "start "+p.name)
	}
	p.state = StateRunning
	p.runCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	components := p.components
	p.mu.Unlock()
	p.metrics.recordState(StateRunning)

	// The scheduler gets a context that survives the run-context cancel:
	// cancelling runCtx ends drivers, while units dispatched during the
	// stop drain still need a live context for throttled enqueues and
	// inline delivery. The scheduler's own Stop cancels it at the end.
	if err := p.sched.Start(context.WithoutCancel(p.runCtx)); err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(p.runCtx)
	driverCount := 0
	for _, c := range components {
		c.mu.Lock()
		drivers := c.onStart
		c.mu.Unlock()
		for _, fn := range drivers {
			driverCount++
			comp, run := c, fn
			group.Go(func() error {
				if err := run(comp.DriverContext(gctx)); err != nil && gctx.Err() == nil {
					comp.fault("OnStart", err)
				}
				return nil
			})
		}
	}
	p.mu.Lock()
	p.drivers = group
	p.mu.Unlock()

	p.logger.Info("pipeline started", "pipeline", p.name, "id", p.id,
		"components", len(components), "drivers", driverCount)

	if driverCount > 0 {
		go func() {
			_ = group.Wait()
			if p.State() == StateRunning {
				p.stopAsync("drivers complete")
			}
		}()
	}
	return nil
}

// Run starts the pipeline and blocks until it stops, by fault, by driver
// completion, or by ctx cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
		defer cancel()
		return p.Stop(stopCtx)
	case <-p.done:
		return p.stopErr
	}
}

// Wait blocks until the pipeline stops or ctx expires, returning the
// aggregated fault error.
func (p *Pipeline) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return p.stopErr
	}
}

// Stop drains and shuts down: drivers are cancelled, accepted messages
// drain to completion (posts from receiver callbacks remain valid during
// the drain), streams close so OnClosed hooks run, bounded queues discard
// whatever an interrupted drain left behind, then the scheduler stops. The
// returned error aggregates every recorded component fault. Stop is
// idempotent; concurrent callers share the result of the first call.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.stopErr = p.doStop(ctx)
		close(p.done)
	})
	return p.stopErr
}

func (p *Pipeline) doStop(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateCreated {
		p.state = StateStopped
		p.mu.Unlock()
		return nil
	}
	p.state = StateStopping
	drivers := p.drivers
	p.mu.Unlock()
	p.metrics.recordState(StateStopping)
	p.logger.Info("pipeline stopping", "pipeline", p.name)

	// Cancelling the run context ends drivers; posts stay accepted while
	// Stopping so receivers forwarding in-flight messages drain cleanly.
	p.cancel()
	if drivers != nil {
		_ = drivers.Wait()
	}

	// Everything already accepted settles first: queues empty out and
	// callback cascades (including close cascades started by completed
	// sources) run to completion before anything is closed or discarded.
	if err := p.sched.WaitIdle(ctx); err != nil {
		p.logger.Warn("drain interrupted", "pipeline", p.name, "error", err)
	}

	// Force-close emitters that did not close naturally, letting each
	// closure's cascade settle before the next closes: downstream emitters
	// stay open for messages the closure itself produces, and OnClosed
	// hooks run in dependency order.
	p.mu.Lock()
	closers := p.closers
	p.mu.Unlock()
	for _, closeEmitter := range closers {
		closeEmitter(ctx)
		if err := p.sched.WaitIdle(ctx); err != nil {
			p.logger.Warn("close drain interrupted", "pipeline", p.name, "error", err)
			break
		}
	}

	// Only an interrupted drain leaves items behind; bounded queues discard
	// those leftovers so the scheduler can stop.
	p.mu.Lock()
	queues := p.queues
	p.mu.Unlock()
	for _, q := range queues {
		if q.unbounded {
			continue
		}
		if dropped := q.clear(); dropped > 0 {
			p.logger.Debug("discarded queued messages at stop",
				"receiver", q.name, "dropped", dropped)
		}
	}

	timeout := defaultStopTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := p.sched.Stop(timeout); err != nil {
		p.recordFaultLocked(ComponentFault{
			Component: p.name, Operation: "Stop",
			Err: err, Time: p.clock.Now(),
		})
	}

	p.mu.Lock()
	p.state = StateStopped
	faults := make([]ComponentFault, len(p.faults))
	copy(faults, p.faults)
	p.mu.Unlock()
	p.metrics.recordState(StateStopped)
	p.logger.Info("pipeline stopped", "pipeline", p.name, "faults", len(faults))
	return aggregateFaults(faults)
}

// recordFault registers a component failure and, when running, initiates
// asynchronous shutdown.
func (p *Pipeline) recordFault(component, operation string, err error) {
	p.recordFaultLocked(ComponentFault{
		Component: component,
		Operation: operation,
		Err:       err,
		Time:      p.clock.Now(),
	})

	if p.State() == StateRunning {
		p.stopAsync("component fault")
	}
}

func (p *Pipeline) recordFaultLocked(f ComponentFault) {
	p.mu.Lock()
	p.faults = append(p.faults, f)
	p.mu.Unlock()
	p.metrics.recordFault()
	p.logger.Error("component fault",
		"component", f.Component, "operation", f.Operation, "error", f.Err)
}

// stopAsync triggers shutdown off the caller's goroutine so faults raised
// inside scheduler units do not deadlock against the drain.
func (p *Pipeline) stopAsync(reason string) {
	p.logger.Info("initiating pipeline stop", "pipeline", p.name, "reason", reason)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
		defer cancel()
		_ = p.Stop(ctx)
	}()
}

// domainPanicked converts a recovered scheduler panic into a fault on the
// component owning the domain.
func (p *Pipeline) domainPanicked(domain string, recovered any) {
	p.mu.Lock()
	c := p.byDomain[domain]
	p.mu.Unlock()

	err := cerrors.WrapFatal(
		&panicError{value: recovered},
		"Pipeline", "dispatch", "callback execution")
	if c != nil {
		c.fault("Receive", err)
		return
	}
	p.recordFault(domain, "Receive", err)
}

// panicError preserves a recovered panic value as an error.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return "panic: " + panicString(e.value)
}

func panicString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// allocateSourceID issues a pipeline-unique stream identity.
func (p *Pipeline) allocateSourceID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSourceID++
	return p.nextSourceID
}

// registerCloser records an emitter's shutdown closer.
func (p *Pipeline) registerCloser(fn func(ctx context.Context)) {
	p.mu.Lock()
	p.closers = append(p.closers, fn)
	p.mu.Unlock()
}

// registerQueue records a receiver queue for stop-time draining.
func (p *Pipeline) registerQueue(q queueRef) {
	p.mu.Lock()
	p.queues = append(p.queues, q)
	p.mu.Unlock()
}
