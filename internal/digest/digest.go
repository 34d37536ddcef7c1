// Package digest sends each opted-in user a short daily summary of
// their task counts. A cron job wakes up once a minute and delivers to
// every user whose configured digest time matches the current HH:MM.
package digest

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindd/internal/dispatch"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

const (
	settingEnabled = "daily_digest_enabled"
	settingTime    = "daily_digest_time"

	defaultTime = "08:00"
)

type Config struct {
	// Spec is the cron expression for the sweep. Default "* * * * *"
	// (every minute); the per-user time check does the real gating.
	Spec string
	// Location resolves the current HH:MM for time matching.
	Location *time.Location
}

// Service runs the digest sweep.
type Service struct {
	cfg   Config
	store *store.Store
	disp  *dispatch.Dispatcher
	log   logx.Logger

	cron *cron.Cron
	now  func() time.Time

	mu       sync.Mutex
	lastSent map[string]string // userID -> "2006-01-02" of last digest
}

func New(cfg Config, st *store.Store, disp *dispatch.Dispatcher, log logx.Logger) *Service {
	if cfg.Spec == "" {
		cfg.Spec = "* * * * *"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		store:    st,
		disp:     disp,
		log:      log,
		now:      time.Now,
		lastSent: make(map[string]string),
	}
}

func (s *Service) Start() error {
	s.cron = cron.New(cron.WithLocation(s.cfg.Location))
	_, err := s.cron.AddFunc(s.cfg.Spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("digest scheduler started", logx.String("spec", s.cfg.Spec))
	return nil
}

func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("digest scheduler stopped")
}

// Sweep delivers the digest to every opted-in user whose configured
// time matches now. Sends at most once per user per day.
func (s *Service) Sweep(ctx context.Context) {
	now := s.now().In(s.cfg.Location)
	hhmm := now.Format("15:04")
	today := now.Format("2006-01-02")

	users, err := s.store.UsersWithSetting(ctx, settingEnabled, "1")
	if err != nil {
		s.log.Error("digest user lookup failed", logx.Err(err))
		return
	}
	for _, userID := range users {
		at, ok, err := s.store.Setting(ctx, userID, settingTime, "")
		if err != nil {
			s.log.Error("digest time lookup failed", logx.String("user", userID), logx.Err(err))
			continue
		}
		if !ok || at == "" {
			at = defaultTime
		}
		if at != hhmm {
			continue
		}

		s.mu.Lock()
		sent := s.lastSent[userID] == today
		s.mu.Unlock()
		if sent {
			continue
		}

		if err := s.deliver(ctx, userID); err != nil {
			s.log.Warn("digest delivery failed", logx.String("user", userID), logx.Err(err))
			continue
		}
		s.mu.Lock()
		s.lastSent[userID] = today
		s.mu.Unlock()
	}
}

func (s *Service) deliver(ctx context.Context, userID string) error {
	counts, err := s.store.CountTasksByStatus(ctx, userID)
	if err != nil {
		return err
	}
	out := s.disp.DeliverDigest(ctx, userID, counts["completed"], counts["pending"], counts["overdue"])
	if !out.Sent {
		s.log.Warn("digest not delivered",
			logx.String("user", userID), logx.String("reason", out.Reason))
		return nil
	}
	s.log.Info("digest sent", logx.String("user", userID), logx.String("channel", out.Channel))
	return nil
}
