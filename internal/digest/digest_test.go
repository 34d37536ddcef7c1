package digest

import (
	"context"
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
	mu    sync.Mutex
	calls int
}

func (f *fakeAdapter) Name() string { return channel.Telegram }

func (f *fakeAdapter) Send(ctx context.Context, dest string, msg channel.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeAdapter) Healthcheck(ctx context.Context) error { return nil }

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestService(t *testing.T, now time.Time) (*Service, *store.Store, *fakeAdapter) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "tasks.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	tg := &fakeAdapter{}
	res := recipient.New(st, logx.Nop())
	disp := dispatch.New(dispatch.Config{
		RetryMax: 1, RetryBase: time.Millisecond, SendTimeout: time.Second, RatePerSec: 1000,
	}, []channel.Adapter{tg}, res, logx.Nop(), nil)

	s := New(Config{Location: time.UTC}, st, disp, logx.Nop())
	s.now = func() time.Time { return now }
	return s, st, tg
}

func optIn(t *testing.T, st *store.Store, user, at string) {
	t.Helper()
	ctx := context.Background()
	for _, kv := range [][2]string{
		{"daily_digest_enabled", "1"},
		{"daily_digest_time", at},
		{"telegram_user_id", "123"},
	} {
		if err := st.SetSetting(ctx, user, kv[0], kv[1], ""); err != nil {
			t.Fatalf("set setting: %v", err)
		}
	}
}

func TestSweepSendsAtConfiguredMinute(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	s, st, tg := newTestService(t, now)
	optIn(t, st, "user1", "08:00")
	optIn(t, st, "user2", "19:30") // different time, not sent now

	s.Sweep(context.Background())
	if tg.callCount() != 1 {
		t.Fatalf("sends = %d, want 1 (only the 08:00 user)", tg.callCount())
	}
}

func TestSweepSendsOncePerDay(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	s, st, tg := newTestService(t, now)
	optIn(t, st, "user1", "08:00")

	ctx := context.Background()
	s.Sweep(ctx)
	s.Sweep(ctx) // same minute, sweep runs again
	if tg.callCount() != 1 {
		t.Fatalf("sends = %d, want 1", tg.callCount())
	}

	// Next day at the same time sends again.
	s.now = func() time.Time { return now.AddDate(0, 0, 1) }
	s.Sweep(ctx)
	if tg.callCount() != 2 {
		t.Fatalf("sends = %d, want 2", tg.callCount())
	}
}

func TestSweepSkipsUsersWithoutOptIn(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	s, st, tg := newTestService(t, now)

	// Configured time but digest not enabled.
	ctx := context.Background()
	for _, kv := range [][2]string{
		{"daily_digest_time", "08:00"},
		{"telegram_user_id", "123"},
	} {
		if err := st.SetSetting(ctx, "user1", kv[0], kv[1], ""); err != nil {
			t.Fatalf("set setting: %v", err)
		}
	}

	s.Sweep(ctx)
	if tg.callCount() != 0 {
		t.Fatalf("sends = %d, want 0", tg.callCount())
	}
}
