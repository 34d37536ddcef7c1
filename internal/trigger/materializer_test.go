package trigger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

func newTestMaterializer(t *testing.T) (*Materializer, *store.Store, string) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "tasks.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	taskID, err := st.CreateTask(context.Background(), store.Task{
		OwnerID: "user1",
		Title:   "Họp nhóm dự án",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return NewMaterializer(st, logx.Nop(), time.UTC), st, taskID
}

func TestMaterializeCreatesOneRecordPerSlot(t *testing.T) {
	t.Parallel()
	m, st, taskID := newTestMaterializer(t)
	ctx := context.Background()

	res, err := m.Materialize(ctx, taskID, map[string]string{
		"notification_time": "2026-08-28 09:00:00",
		"notif1":            "2026-08-28T08:30",
		"notif2":            "",
	})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(res.Created) != 2 {
		t.Fatalf("created = %d records, want 2", len(res.Created))
	}
	if len(res.Rejected) != 0 {
		t.Fatalf("rejected = %v, want none", res.Rejected)
	}

	recs, err := st.RecordsForTask(ctx, taskID, store.StatusPending)
	if err != nil {
		t.Fatalf("records for task: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("stored = %d records, want 2", len(recs))
	}
	// Input shapes are normalized to the canonical layout.
	if recs[0].FireTime != "2026-08-28 08:30:00" {
		t.Fatalf("fire_time = %q, want normalized form", recs[0].FireTime)
	}
}

func TestMaterializeKeepsUnparseableVerbatim(t *testing.T) {
	t.Parallel()
	m, st, taskID := newTestMaterializer(t)
	ctx := context.Background()

	res, err := m.Materialize(ctx, taskID, map[string]string{
		"notif1": "next tuesday",
		"notif2": "2026-08-28 09:00:00",
	})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(res.Created) != 2 {
		t.Fatalf("created = %d records, want 2 (bad slot must not abort the good one)", len(res.Created))
	}
	if len(res.Rejected) != 1 || res.Rejected[0] != "notif1" {
		t.Fatalf("rejected = %v, want [notif1]", res.Rejected)
	}

	recs, err := st.RecordsForTask(ctx, taskID, store.StatusPending)
	if err != nil {
		t.Fatalf("records for task: %v", err)
	}
	for _, r := range recs {
		if r.Slot == "notif1" && r.FireTime != "next tuesday" {
			t.Fatalf("unparseable value not stored verbatim: %q", r.FireTime)
		}
	}
}

func TestReconcileSupersedesAndClears(t *testing.T) {
	t.Parallel()
	m, st, taskID := newTestMaterializer(t)
	ctx := context.Background()

	_, err := m.Materialize(ctx, taskID, map[string]string{
		"notif1": "2026-08-28 08:00:00",
		"notif2": "2026-08-28 09:00:00",
		"notif3": "2026-08-28 10:00:00",
	})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}

	// notif1 moves, notif2 is cleared, notif3 is untouched.
	res, err := m.Reconcile(ctx, taskID, map[string]string{
		"notif1": "2026-08-29 08:00:00",
		"notif2": "",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(res.Created) != 1 {
		t.Fatalf("created = %d records, want 1", len(res.Created))
	}
	if len(res.Cleared) != 1 || res.Cleared[0] != "notif2" {
		t.Fatalf("cleared = %v, want [notif2]", res.Cleared)
	}

	recs, err := st.RecordsForTask(ctx, taskID, store.StatusPending)
	if err != nil {
		t.Fatalf("records for task: %v", err)
	}
	got := map[string]string{}
	for _, r := range recs {
		got[r.Slot] = r.FireTime
	}
	want := map[string]string{
		"notif1": "2026-08-29 08:00:00",
		"notif3": "2026-08-28 10:00:00",
	}
	if len(got) != len(want) {
		t.Fatalf("pending slots = %v, want %v", got, want)
	}
	for slot, ft := range want {
		if got[slot] != ft {
			t.Fatalf("slot %s fire_time = %q, want %q", slot, got[slot], ft)
		}
	}
}

func TestReconcileEmptyIsNoop(t *testing.T) {
	t.Parallel()
	m, st, taskID := newTestMaterializer(t)
	ctx := context.Background()

	if _, err := m.Materialize(ctx, taskID, map[string]string{
		"notif1": "2026-08-28 08:00:00",
	}); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	res, err := m.Reconcile(ctx, taskID, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(res.Created) != 0 || len(res.Cleared) != 0 {
		t.Fatalf("empty reconcile did something: %+v", res)
	}

	recs, err := st.RecordsForTask(ctx, taskID, store.StatusPending)
	if err != nil {
		t.Fatalf("records for task: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("pending = %d records after no-op reconcile, want 1", len(recs))
	}
}

func TestReconcileIgnoresUnknownSlots(t *testing.T) {
	t.Parallel()
	m, st, taskID := newTestMaterializer(t)
	ctx := context.Background()

	res, err := m.Reconcile(ctx, taskID, map[string]string{
		"deadline": "2026-08-28 08:00:00",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(res.Created) != 0 {
		t.Fatalf("created = %d records for unknown slot, want 0", len(res.Created))
	}

	recs, err := st.RecordsForTask(ctx, taskID, "")
	if err != nil {
		t.Fatalf("records for task: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("stored = %d records, want 0", len(recs))
	}
}

func TestMaterializeTaskReadsSlotColumns(t *testing.T) {
	t.Parallel()
	m, st, _ := newTestMaterializer(t)
	ctx := context.Background()

	id, err := st.CreateTask(ctx, store.Task{
		OwnerID:          "user2",
		Title:            "Khám sức khỏe định kỳ",
		NotificationTime: "2026-09-01 07:00:00",
		Notif:            [8]string{"2026-08-31 20:00:00"},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	task, err := st.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}

	res, err := m.MaterializeTask(ctx, task)
	if err != nil {
		t.Fatalf("materialize task: %v", err)
	}
	if len(res.Created) != 2 {
		t.Fatalf("created = %d records, want 2", len(res.Created))
	}
}
