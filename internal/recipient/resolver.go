package recipient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindd/internal/channel"
	"remindd/internal/store"
	logx "remindd/pkg/logx"
)

// Per-user setting keys consumed by the resolver. The settings table is a
// generic key/value store owned by the host; these are the keys the
// engine reads.
const (
	keyTelegramID      = "telegram_user_id"
	keyEmail           = "email_alt"
	keyZaloID          = "zalo_user_id"
	keyChannelPriority = "notification_channel_priority"
	keyQuietEnabled    = "quiet_hours_enabled"
	keyQuietRange      = "quiet_hours_range"
)

var enabledKeys = map[string]string{
	channel.Telegram: "notify_via_telegram",
	channel.Email:    "notify_via_email",
	channel.Zalo:     "notify_via_zalo",
}

var addressKeys = map[string]string{
	channel.Telegram: keyTelegramID,
	channel.Email:    keyEmail,
	channel.Zalo:     keyZaloID,
}

// Telegram is the only channel enabled by default, matching the host's
// settings screen defaults.
var defaultEnabled = map[string]bool{
	channel.Telegram: true,
	channel.Email:    false,
	channel.Zalo:     false,
}

// Binding is one resolvable destination for a user.
type Binding struct {
	Channel     string
	Destination string
}

// Recipient is the dispatch-time view of a task owner: the channels that
// are both enabled and configured, in the user's preferred order. An
// empty Bindings slice means "not resolvable" (soft failure, not error).
type Recipient struct {
	UserID   string
	Bindings []Binding
}

// Resolver maps a record's owning user to channel destinations and slot
// labels. Everything is looked up at dispatch time so a settings change
// made after a record was created still affects pending delivery.
type Resolver struct {
	store *store.Store
	log   logx.Logger
}

func New(st *store.Store, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{store: st, log: log}
}

// Resolve finds the owner's destinations. ownerID comes from the joined
// task row; when it is empty (orphaned record with a stale join) a direct
// task lookup is tried before giving up.
func (r *Resolver) Resolve(ctx context.Context, ownerID, taskID string) (Recipient, error) {
	if ownerID == "" && taskID != "" {
		t, err := r.store.GetTask(ctx, taskID)
		if err == nil {
			ownerID = t.OwnerID
		} else if !errors.Is(err, store.ErrTaskNotFound) {
			return Recipient{}, err
		}
	}
	if ownerID == "" {
		return Recipient{}, nil
	}

	rec := Recipient{UserID: ownerID}
	for _, ch := range r.channelOrder(ctx, ownerID) {
		enabled, err := r.store.SettingBool(ctx, ownerID, enabledKeys[ch], "", defaultEnabled[ch])
		if err != nil {
			return Recipient{}, err
		}
		if !enabled {
			continue
		}
		addr, ok, err := r.store.Setting(ctx, ownerID, addressKeys[ch], "")
		if err != nil {
			return Recipient{}, err
		}
		if !ok {
			r.log.Debug("channel enabled but no address configured",
				logx.String("user", ownerID), logx.String("channel", ch))
			continue
		}
		rec.Bindings = append(rec.Bindings, Binding{Channel: ch, Destination: strings.TrimSpace(addr)})
	}
	return rec, nil
}

func (r *Resolver) channelOrder(ctx context.Context, userID string) []string {
	raw, ok, err := r.store.Setting(ctx, userID, keyChannelPriority, "")
	if err != nil || !ok {
		return channel.DefaultPriority
	}
	var order []string
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		r.log.Warn("bad channel priority setting; using default",
			logx.String("user", userID), logx.String("value", raw))
		return channel.DefaultPriority
	}
	out := make([]string, 0, len(order))
	for _, ch := range order {
		if _, known := addressKeys[ch]; known {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return channel.DefaultPriority
	}
	return out
}

// Label returns the user's display label for a trigger slot, falling back
// to the generic per-slot label. Presentational only.
func (r *Resolver) Label(ctx context.Context, userID, slot string) string {
	if userID != "" {
		v, ok, err := r.store.Setting(ctx, userID, "label_"+slot, "")
		if err == nil && ok {
			return v
		}
	}
	return DefaultLabel(slot)
}

// DefaultLabel is the generic label for a slot ("Thông báo 1" .. "Thông
// báo 8", "Thông báo chính" for the primary slot).
func DefaultLabel(slot string) string {
	if slot == "notification_time" {
		return "Thông báo chính"
	}
	if strings.HasPrefix(slot, "notif") && len(slot) == 6 {
		return fmt.Sprintf("Thông báo %c", slot[5])
	}
	return "Thông báo"
}

// InQuietHours reports whether now falls inside the user's configured
// quiet window ("HH:MM-HH:MM", may wrap past midnight). Records due in a
// quiet window are left pending until it ends.
func (r *Resolver) InQuietHours(ctx context.Context, userID string, now time.Time) bool {
	if userID == "" {
		return false
	}
	enabled, err := r.store.SettingBool(ctx, userID, keyQuietEnabled, "", false)
	if err != nil || !enabled {
		return false
	}
	raw, ok, err := r.store.Setting(ctx, userID, keyQuietRange, "")
	if err != nil || !ok {
		return false
	}
	start, end, perr := parseQuietRange(raw)
	if perr != nil {
		r.log.Warn("bad quiet hours range",
			logx.String("user", userID), logx.String("value", raw))
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	// Wraps midnight, e.g. 22:00-07:00.
	return minute >= start || minute < end
}

func parseQuietRange(s string) (startMin, endMin int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("quiet range %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
