package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindd/internal/channel"
	"remindd/internal/eventbus"
	"remindd/internal/recipient"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// Config controls the retry/backoff/rate behavior of delivery attempts.
//
// Defaults: 3 attempts per channel, 1s linear backoff (base × attempt),
// 30s per send call, 3 outbound sends per second.
type Config struct {
	RetryMax    int
	RetryBase   time.Duration
	SendTimeout time.Duration
	RatePerSec  int
}

func (c *Config) applyDefaults() {
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
}

// Outcome is the result of one delivery for one record.
type Outcome struct {
	Sent bool
	// Channel the message went out on (empty when not sent).
	Channel string
	// Reason is a short diagnostic when not sent.
	Reason string
}

// Dispatcher renders reminders and fans them out across the recipient's
// enabled channels. Adapters are injected, never constructed here, so
// tests swap in fakes.
type Dispatcher struct {
	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	adapters map[string]channel.Adapter

	resolver *recipient.Resolver
	log      logx.Logger
	bus      eventbus.Bus

	now func() time.Time
}

func New(cfg Config, adapters []channel.Adapter, res *recipient.Resolver, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := make(map[string]channel.Adapter, len(adapters))
	for _, a := range adapters {
		if a != nil {
			m[a.Name()] = a
		}
	}
	d := &Dispatcher{adapters: m, resolver: res, log: log, bus: bus, now: time.Now}
	d.Apply(cfg)
	return d
}

// Apply swaps retry/rate settings at runtime (config reload).
func (d *Dispatcher) Apply(cfg Config) {
	cfg.applyDefaults()
	d.mu.Lock()
	d.cfg = cfg
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	d.mu.Unlock()
}

// Healthcheck runs every adapter's connectivity check. Failures are
// logged and returned but callers treat them as advisory.
func (d *Dispatcher) Healthcheck(ctx context.Context) map[string]error {
	out := map[string]error{}
	for name, a := range d.adapters {
		err := a.Healthcheck(ctx)
		if err != nil {
			d.log.Warn("channel healthcheck failed", logx.String("channel", name), logx.Err(err))
		}
		out[name] = err
	}
	return out
}

// Deliver sends one due record. It resolves the recipient at call time,
// renders the message with the user's slot label, and tries each
// resolvable channel in order until one succeeds.
//
// Sent=false with an empty Channel means no outbound call was made
// (nothing resolvable); the caller marks the record failed either way.
func (d *Dispatcher) Deliver(ctx context.Context, rec store.DueRecord) Outcome {
	rcp, err := d.resolver.Resolve(ctx, rec.OwnerID, rec.TaskID)
	if err != nil {
		return Outcome{Reason: fmt.Sprintf("resolve recipient: %v", err)}
	}
	if len(rcp.Bindings) == 0 {
		d.log.Warn("no recipient binding for record",
			logx.String("record", rec.ID), logx.String("user", rcp.UserID))
		return Outcome{Reason: "no recipient binding"}
	}

	label := d.resolver.Label(ctx, rcp.UserID, rec.Slot)
	msg := renderReminder(rec.Title, label, rec.FireTime, rec.Priority, d.now())

	return d.fanOut(ctx, rec.ID, rcp, msg)
}

// DeliverAdhoc sends a test notification for a task immediately,
// bypassing the schedule and the status store.
func (d *Dispatcher) DeliverAdhoc(ctx context.Context, t store.Task) Outcome {
	rcp, err := d.resolver.Resolve(ctx, t.OwnerID, t.ID)
	if err != nil {
		return Outcome{Reason: fmt.Sprintf("resolve recipient: %v", err)}
	}
	if len(rcp.Bindings) == 0 {
		return Outcome{Reason: "no recipient binding"}
	}
	msg := renderReminder(t.Title, "Thông báo thử", t.Deadline, t.Priority, d.now())
	return d.fanOut(ctx, "test_"+t.ID, rcp, msg)
}

// DeliverDigest sends the daily summary to one user.
func (d *Dispatcher) DeliverDigest(ctx context.Context, userID string, completed, pending, overdue int) Outcome {
	rcp, err := d.resolver.Resolve(ctx, userID, "")
	if err != nil {
		return Outcome{Reason: fmt.Sprintf("resolve recipient: %v", err)}
	}
	if len(rcp.Bindings) == 0 {
		return Outcome{Reason: "no recipient binding"}
	}
	msg := renderDigest(completed, pending, overdue, d.now())
	return d.fanOut(ctx, "digest_"+userID, rcp, msg)
}

func (d *Dispatcher) fanOut(ctx context.Context, refID string, rcp recipient.Recipient, msg channel.Message) Outcome {
	var lastReason string
	attempted := false
	for _, b := range rcp.Bindings {
		a, ok := d.adapters[b.Channel]
		if !ok {
			// Channel enabled in settings but not configured in the daemon.
			continue
		}
		attempted = true
		if err := d.sendWithRetry(ctx, a, b.Destination, msg); err != nil {
			lastReason = fmt.Sprintf("%s: %v", b.Channel, err)
			d.publish("dispatch.channel_failed", refID, b.Channel, err)
			continue
		}
		d.publish("dispatch.sent", refID, b.Channel, nil)
		d.log.Info("notification delivered",
			logx.String("ref", refID),
			logx.String("channel", b.Channel),
			logx.String("user", rcp.UserID),
		)
		return Outcome{Sent: true, Channel: b.Channel}
	}
	if !attempted {
		lastReason = "no adapter configured for the user's channels"
	}
	return Outcome{Reason: lastReason}
}

// sendWithRetry makes up to RetryMax attempts on one channel with linear
// backoff (base × attempt number) between attempts. Each attempt is
// bounded by SendTimeout and gated by the shared outbound rate limiter.
func (d *Dispatcher) sendWithRetry(ctx context.Context, a channel.Adapter, dest string, msg channel.Message) error {
	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	d.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= cfg.RetryMax; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := a.Send(callCtx, dest, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		d.log.Debug("send attempt failed",
			logx.String("channel", a.Name()),
			logx.Int("attempt", attempt),
			logx.Int("max", cfg.RetryMax),
			logx.Err(err),
		)
		if attempt >= cfg.RetryMax {
			break
		}

		delay := cfg.RetryBase * time.Duration(attempt)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		}
	}
	return lastErr
}

func (d *Dispatcher) publish(typ, refID, ch string, err error) {
	if d.bus == nil {
		return
	}
	data := map[string]string{"ref": refID, "channel": ch}
	if err != nil {
		data["error"] = err.Error()
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
