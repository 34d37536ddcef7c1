package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"remindd/internal/dispatch"
	"remindd/internal/eventbus"
	"remindd/internal/recipient"
	"remindd/internal/store"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

// Config controls the polling scheduler.
type Config struct {
	// PollInterval is how often due records are scanned. Default 60s.
	PollInterval time.Duration
	// BatchLimit caps how many due records one cycle claims. Default 100.
	BatchLimit int
	// Location interprets trigger timestamps (they carry no zone).
	Location *time.Location
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// Summary reports one poll cycle.
type Summary struct {
	Processed int // records claimed this cycle
	Sent      int
	Failed    int
	Skipped   int // left pending (quiet hours, unparseable fire time, lost claim race)
}

// Engine owns the notification lifecycle: it materializes trigger slots
// into records, polls for due ones, claims them, and hands them to the
// dispatcher. There is exactly one engine instance writing status in a
// deployment; the claim step is still a conditional update so even a
// misconfigured second instance cannot double-send.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	store *store.Store
	mat   *trigger.Materializer
	disp  *dispatch.Dispatcher
	res   *recipient.Resolver
	log   logx.Logger
	bus   eventbus.Bus

	now func() time.Time

	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	running   bool
}

func New(cfg Config, st *store.Store, disp *dispatch.Dispatcher, res *recipient.Resolver, log logx.Logger, bus eventbus.Bus) *Engine {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:   cfg,
		store: st,
		mat:   trigger.NewMaterializer(st, log, cfg.Location),
		disp:  disp,
		res:   res,
		log:   log,
		bus:   bus,
		now:   time.Now,
	}
}

// Apply swaps poll settings at runtime (config reload). A changed
// interval takes effect on the next tick.
func (e *Engine) Apply(cfg Config) {
	cfg.applyDefaults()
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Materialize creates pending records for a task's non-empty trigger
// slots. Exposed to the host's task-creation path.
func (e *Engine) Materialize(ctx context.Context, taskID string, slotValues map[string]string) (trigger.Result, error) {
	return e.mat.Materialize(ctx, taskID, slotValues)
}

// Reconcile retires and recreates records for the slots present in
// changedSlotValues. Exposed to the host's task-update path.
func (e *Engine) Reconcile(ctx context.Context, taskID string, changedSlotValues map[string]string) (trigger.Result, error) {
	return e.mat.Reconcile(ctx, taskID, changedSlotValues)
}

// DispatchTest sends one ad-hoc notification for a task right now,
// bypassing the schedule. Used by the host's "test notification" button.
func (e *Engine) DispatchTest(ctx context.Context, taskID string) error {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	out := e.disp.DeliverAdhoc(ctx, t)
	if !out.Sent {
		return fmt.Errorf("test notification for %s not delivered: %s", taskID, out.Reason)
	}
	return nil
}

// Start launches the polling loop. Idempotent.
func (e *Engine) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	rctx, cancel := context.WithCancel(ctx)
	e.runCancel = cancel
	interval := e.cfg.PollInterval
	e.mu.Unlock()

	e.runWG.Add(1)
	go func() {
		defer e.runWG.Done()
		e.log.Info("poller started", logx.Duration("interval", interval))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				e.log.Info("poller stopped")
				return
			case <-ticker.C:
				// The cycle context is detached from the run context: a
				// stop request lets the in-flight cycle finish. Each send
				// is bounded by the dispatcher's timeout, so the cycle is.
				sum, err := e.ProcessDue(context.Background())
				if err != nil {
					e.log.Error("poll cycle failed", logx.Err(err))
				} else if sum.Processed > 0 || sum.Skipped > 0 {
					e.log.Info("poll cycle done",
						logx.Int("processed", sum.Processed),
						logx.Int("sent", sum.Sent),
						logx.Int("failed", sum.Failed),
						logx.Int("skipped", sum.Skipped),
					)
				}

				// Pick up interval changes from config reload.
				e.mu.Lock()
				next := e.cfg.PollInterval
				e.mu.Unlock()
				if next != interval {
					interval = next
					ticker.Reset(interval)
				}
			}
		}
	}()
}

// Stop signals the loop and waits for the in-flight cycle, bounded by ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.runCancel
	e.runCancel = nil
	wasRunning := e.running
	e.running = false
	e.mu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		e.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProcessDue runs one poll cycle: select due pending records (earliest
// first), claim each, dispatch, and finalize status. One record's failure
// never stops the rest; failures surface only through record status.
//
// Also invocable on demand for "flush now" behavior.
func (e *Engine) ProcessDue(ctx context.Context) (Summary, error) {
	e.mu.Lock()
	limit := e.cfg.BatchLimit
	loc := e.cfg.Location
	e.mu.Unlock()

	now := e.now().In(loc)
	due, err := e.store.DueBefore(ctx, now, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("select due records: %w", err)
	}

	var sum Summary
	for _, rec := range due {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		switch e.processOne(ctx, rec, now) {
		case resultSent:
			sum.Processed++
			sum.Sent++
		case resultFailed:
			sum.Processed++
			sum.Failed++
		case resultSkipped:
			sum.Skipped++
		}
	}
	return sum, nil
}

type processResult int

const (
	resultSkipped processResult = iota
	resultSent
	resultFailed
)

func (e *Engine) processOne(ctx context.Context, rec store.DueRecord, now time.Time) processResult {
	e.mu.Lock()
	loc := e.cfg.Location
	e.mu.Unlock()

	// Fail-safe for stored-verbatim garbage that sorted before now: a
	// fire time that doesn't parse is never due.
	ft, ok := trigger.ParseFireTime(rec.FireTime, loc)
	if !ok {
		e.log.Debug("skipping record with unparseable fire time",
			logx.String("record", rec.ID), logx.String("fire_time", rec.FireTime))
		e.publish("record.skipped", rec.ID, "unparseable fire time")
		return resultSkipped
	}
	if ft.After(now) {
		return resultSkipped
	}

	// Quiet hours leave the record pending; it fires when the window ends.
	if e.res.InQuietHours(ctx, rec.OwnerID, now) {
		e.publish("record.skipped", rec.ID, "quiet hours")
		return resultSkipped
	}

	claimed, err := e.store.Claim(ctx, rec.ID)
	if err != nil {
		e.log.Error("claim failed", logx.String("record", rec.ID), logx.Err(err))
		return resultSkipped
	}
	if !claimed {
		// Retired by a reconcile, or taken by an overlapping cycle.
		return resultSkipped
	}
	e.publish("record.claimed", rec.ID, "")

	if !rec.TaskExists {
		e.log.Warn("dispatching record for deleted task",
			logx.String("record", rec.ID), logx.String("task", rec.TaskID))
	}

	out := e.disp.Deliver(ctx, rec)
	sentAt := e.now()
	if out.Sent {
		if err := e.store.MarkSent(ctx, rec.ID, sentAt); err != nil {
			e.log.Error("mark sent failed", logx.String("record", rec.ID), logx.Err(err))
		}
		e.publish("record.sent", rec.ID, out.Channel)
		return resultSent
	}
	if err := e.store.MarkFailed(ctx, rec.ID, sentAt); err != nil {
		e.log.Error("mark failed failed", logx.String("record", rec.ID), logx.Err(err))
	}
	e.log.Warn("record failed",
		logx.String("record", rec.ID),
		logx.String("task", rec.TaskID),
		logx.String("reason", out.Reason),
	)
	e.publish("record.failed", rec.ID, out.Reason)
	return resultFailed
}

func (e *Engine) publish(typ, recordID, detail string) {
	if e.bus == nil {
		return
	}
	data := map[string]string{"record": recordID}
	if detail != "" {
		data["detail"] = detail
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
