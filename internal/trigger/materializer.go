package trigger

import (
	"context"
	"fmt"
	"time"

	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// Materializer converts a task's trigger-slot values into pending
// notification records, and reconciles them when slots are rewritten.
type Materializer struct {
	store *store.Store
	log   logx.Logger
	loc   *time.Location

	now func() time.Time
}

// Result reports what one Materialize/Reconcile call did.
type Result struct {
	// Created lists the fresh pending records, one per non-empty slot.
	Created []store.Record
	// Cleared lists slots whose pending records were retired without a
	// replacement (slot rewritten to empty).
	Cleared []string
	// Rejected lists slots whose value did not parse. Such records are
	// stored verbatim and never become due; the slot is reported so the
	// host can surface it.
	Rejected []string
}

func NewMaterializer(st *store.Store, log logx.Logger, loc *time.Location) *Materializer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Materializer{store: st, log: log, loc: loc, now: time.Now}
}

// Materialize creates one pending record per non-empty slot value. Used on
// task creation; slots not present in values are ignored. Values that
// don't parse are stored verbatim (never due) and reported in
// Result.Rejected rather than aborting the other slots.
func (m *Materializer) Materialize(ctx context.Context, taskID string, values map[string]string) (Result, error) {
	var res Result
	if taskID == "" {
		return res, fmt.Errorf("materialize: task id is required")
	}

	recs := m.buildRecords(taskID, values, &res)
	if len(recs) == 0 {
		return res, nil
	}
	if err := m.store.CreatePending(ctx, recs); err != nil {
		return Result{}, fmt.Errorf("materialize %s: %w", taskID, err)
	}
	res.Created = recs
	m.log.Debug("triggers materialized",
		logx.String("task", taskID),
		logx.Int("records", len(recs)),
		logx.Int("rejected", len(res.Rejected)),
	)
	return res, nil
}

// MaterializeTask is a convenience wrapper reading the slot values off a
// task row.
func (m *Materializer) MaterializeTask(ctx context.Context, t store.Task) (Result, error) {
	values := make(map[string]string, 9)
	for _, slot := range store.SlotNames() {
		if v, ok := t.SlotValue(slot); ok && v != "" {
			values[slot] = v
		}
	}
	return m.Materialize(ctx, t.ID, values)
}

// Reconcile applies a slot rewrite: for every slot present in changed, all
// currently-pending records for (task, slot) are retired, and a fresh
// pending record is created when the new value is non-empty. Slots absent
// from changed are untouched. The retire+create step is one transaction,
// so a poll cycle never observes a half-updated slot set.
//
// Reconcile with an empty map is a no-op (idempotent).
func (m *Materializer) Reconcile(ctx context.Context, taskID string, changed map[string]string) (Result, error) {
	var res Result
	if taskID == "" {
		return res, fmt.Errorf("reconcile: task id is required")
	}
	if len(changed) == 0 {
		return res, nil
	}

	slots := make([]string, 0, len(changed))
	for slot, v := range changed {
		if !store.IsSlotName(slot) {
			m.log.Warn("reconcile: unknown trigger slot ignored",
				logx.String("task", taskID), logx.String("slot", slot))
			continue
		}
		slots = append(slots, slot)
		if v == "" {
			res.Cleared = append(res.Cleared, slot)
		}
	}
	if len(slots) == 0 {
		return res, nil
	}

	recs := m.buildRecords(taskID, changed, &res)
	if err := m.store.RetireAndCreate(ctx, taskID, slots, recs); err != nil {
		return Result{}, fmt.Errorf("reconcile %s: %w", taskID, err)
	}
	res.Created = recs
	m.log.Debug("triggers reconciled",
		logx.String("task", taskID),
		logx.Int("slots", len(slots)),
		logx.Int("records", len(recs)),
		logx.Int("rejected", len(res.Rejected)),
	)
	return res, nil
}

func (m *Materializer) buildRecords(taskID string, values map[string]string, res *Result) []store.Record {
	now := m.now()
	var recs []store.Record
	for _, slot := range store.SlotNames() {
		raw, present := values[slot]
		if !present || raw == "" {
			continue
		}
		fireTime, ok := Normalize(raw, m.loc)
		if !ok {
			// Fail-safe: keep the record, stored verbatim. The poller's
			// due check skips values that don't parse.
			m.log.Warn("unparseable trigger timestamp; record will never fire",
				logx.String("task", taskID),
				logx.String("slot", slot),
				logx.String("value", raw),
			)
			res.Rejected = append(res.Rejected, slot)
			fireTime = raw
		}
		recs = append(recs, store.Record{
			ID:        store.NewRecordID(taskID, slot, now),
			TaskID:    taskID,
			Slot:      slot,
			FireTime:  fireTime,
			Status:    store.StatusPending,
			CreatedAt: now,
		})
	}
	return recs
}
