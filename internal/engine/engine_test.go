package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"remindd/internal/channel"
	"remindd/internal/dispatch"
	"remindd/internal/recipient"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

type fakeAdapter struct {
	name string

	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Send(ctx context.Context, dest string, msg channel.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("send refused")
	}
	return nil
}

func (f *fakeAdapter) Healthcheck(ctx context.Context) error { return nil }

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testRig struct {
	eng *Engine
	st  *store.Store
	tg  *fakeAdapter
}

// newTestRig builds an engine over a throwaway store with one fake
// telegram adapter and a pinned clock.
func newTestRig(t *testing.T, now time.Time) *testRig {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "tasks.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	tg := &fakeAdapter{name: channel.Telegram}
	res := recipient.New(st, logx.Nop())
	disp := dispatch.New(dispatch.Config{
		RetryMax:    2,
		RetryBase:   time.Millisecond,
		SendTimeout: time.Second,
		RatePerSec:  1000,
	}, []channel.Adapter{tg}, res, logx.Nop(), nil)

	eng := New(Config{Location: time.UTC}, st, disp, res, logx.Nop(), nil)
	eng.now = func() time.Time { return now }
	return &testRig{eng: eng, st: st, tg: tg}
}

func (r *testRig) seedTask(t *testing.T, owner string) string {
	t.Helper()
	id, err := r.st.CreateTask(context.Background(), store.Task{
		OwnerID:  owner,
		Title:    "Gia hạn tên miền",
		Priority: "high",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return id
}

func (r *testRig) bindTelegram(t *testing.T, owner string) {
	t.Helper()
	if err := r.st.SetSetting(context.Background(), owner, "telegram_user_id", "123", ""); err != nil {
		t.Fatalf("set setting: %v", err)
	}
}

func TestProcessDueSendsOnlyDueRecords(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rig := newTestRig(t, now)
	ctx := context.Background()

	taskID := rig.seedTask(t, "user1")
	rig.bindTelegram(t, "user1")

	if _, err := rig.eng.Materialize(ctx, taskID, map[string]string{
		"notif1": "2026-08-28 09:00:00", // due
		"notif2": "2026-08-28 11:00:00", // future
	}); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	sum, err := rig.eng.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if sum.Sent != 1 || sum.Failed != 0 {
		t.Fatalf("summary = %+v, want one send", sum)
	}

	sent, err := rig.st.RecordsForTask(ctx, taskID, store.StatusSent)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(sent) != 1 || sent[0].Slot != "notif1" {
		t.Fatalf("sent records = %+v", sent)
	}
	pending, err := rig.st.RecordsForTask(ctx, taskID, store.StatusPending)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(pending) != 1 || pending[0].Slot != "notif2" {
		t.Fatalf("future record touched: %+v", pending)
	}
}

func TestProcessDueIsIdempotentAcrossCycles(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rig := newTestRig(t, now)
	ctx := context.Background()

	taskID := rig.seedTask(t, "user1")
	rig.bindTelegram(t, "user1")
	if _, err := rig.eng.Materialize(ctx, taskID, map[string]string{
		"notif1": "2026-08-28 09:00:00",
	}); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	if _, err := rig.eng.ProcessDue(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	sum, err := rig.eng.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if sum.Processed != 0 || sum.Sent != 0 {
		t.Fatalf("second cycle summary = %+v, want nothing", sum)
	}
	if rig.tg.callCount() != 1 {
		t.Fatalf("sends = %d, want exactly 1", rig.tg.callCount())
	}
}

func TestProcessDueMarksFailedAfterRetries(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rig := newTestRig(t, now)
	rig.tg.fail = true
	ctx := context.Background()

	taskID := rig.seedTask(t, "user1")
	rig.bindTelegram(t, "user1")
	if _, err := rig.eng.Materialize(ctx, taskID, map[string]string{
		"notif1": "2026-08-28 09:00:00",
	}); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	sum, err := rig.eng.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v, want one failure", sum)
	}

	failed, err := rig.st.RecordsForTask(ctx, taskID, store.StatusFailed)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("failed records = %d, want 1", len(failed))
	}

	// failed is terminal: the next cycle does not retry it.
	sum, err = rig.eng.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if sum.Processed != 0 {
		t.Fatalf("second cycle reprocessed a failed record: %+v", sum)
	}
}

func TestProcessDueSkipsQuietHours(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 23, 0, 0, 0, time.UTC)
	rig := newTestRig(t, now)
	ctx := context.Background()

	taskID := rig.seedTask(t, "user1")
	rig.bindTelegram(t, "user1")
	for _, kv := range [][2]string{
		{"quiet_hours_enabled", "1"},
		{"quiet_hours_range", "22:00-07:00"},
	} {
		if err := rig.st.SetSetting(ctx, "user1", kv[0], kv[1], ""); err != nil {
			t.Fatalf("set setting: %v", err)
		}
	}
	if _, err := rig.eng.Materialize(ctx, taskID, map[string]string{
		"notif1": "2026-08-28 22:30:00",
	}); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	sum, err := rig.eng.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if sum.Skipped != 1 || sum.Processed != 0 {
		t.Fatalf("summary = %+v, want one skip", sum)
	}

	// Still pending, not claimed: it fires once the window ends.
	pending, err := rig.st.RecordsForTask(ctx, taskID, store.StatusPending)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	rig.eng.now = func() time.Time {
		return time.Date(2026, 8, 29, 7, 30, 0, 0, time.UTC)
	}
	sum, err = rig.eng.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("morning cycle: %v", err)
	}
	if sum.Sent != 1 {
		t.Fatalf("morning summary = %+v, want one send", sum)
	}
}

func TestProcessDueSkipsUnparseableFireTime(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rig := newTestRig(t, now)
	ctx := context.Background()

	taskID := rig.seedTask(t, "user1")
	rig.bindTelegram(t, "user1")

	// A verbatim-stored garbage value that sorts before "2026-…".
	if err := rig.st.CreatePending(ctx, []store.Record{{
		ID:       store.NewRecordID(taskID, "notif1", now),
		TaskID:   taskID,
		Slot:     "notif1",
		FireTime: "09:00 tomorrow",
		Status:   store.StatusPending,
	}}); err != nil {
		t.Fatalf("create pending: %v", err)
	}

	sum, err := rig.eng.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if sum.Processed != 0 {
		t.Fatalf("summary = %+v, want nothing claimed", sum)
	}
	if rig.tg.callCount() != 0 {
		t.Fatal("unparseable record was dispatched")
	}
	pending, err := rig.st.RecordsForTask(ctx, taskID, store.StatusPending)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want record left untouched", len(pending))
	}
}

func TestProcessDueDeliversOrphanRecords(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rig := newTestRig(t, now)
	ctx := context.Background()

	taskID := rig.seedTask(t, "user1")
	rig.bindTelegram(t, "user1")
	if _, err := rig.eng.Materialize(ctx, taskID, map[string]string{
		"notif1": "2026-08-28 09:00:00",
	}); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if err := rig.st.DeleteTask(ctx, taskID); err != nil {
		t.Fatalf("delete task: %v", err)
	}

	// Owner is unknown after deletion, so resolution fails soft and the
	// record ends up failed rather than stuck pending.
	sum, err := rig.eng.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if sum.Processed != 1 || sum.Failed != 1 {
		t.Fatalf("summary = %+v, want one failed orphan", sum)
	}
}

func TestDispatchTest(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rig := newTestRig(t, now)
	ctx := context.Background()

	taskID := rig.seedTask(t, "user1")
	rig.bindTelegram(t, "user1")

	if err := rig.eng.DispatchTest(ctx, taskID); err != nil {
		t.Fatalf("dispatch test: %v", err)
	}
	if rig.tg.callCount() != 1 {
		t.Fatalf("sends = %d, want 1", rig.tg.callCount())
	}

	if err := rig.eng.DispatchTest(ctx, "task_missing"); !errors.Is(err, store.ErrTaskNotFound) {
		t.Fatalf("missing task: err = %v, want ErrTaskNotFound", err)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t, time.Now())
	rig.eng.Apply(Config{PollInterval: 10 * time.Millisecond, Location: time.UTC})

	ctx := context.Background()
	rig.eng.Start(ctx)
	rig.eng.Start(ctx) // idempotent

	time.Sleep(50 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := rig.eng.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := rig.eng.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
