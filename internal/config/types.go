package config

// Config is the daemon configuration.
//
// It is loaded from a YAML or JSON file. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Engine controls the polling scheduler.
	Engine EngineConfig `json:"engine"`

	// Dispatch controls delivery attempts (retry/backoff/rate limit).
	Dispatch DispatchConfig `json:"dispatch"`

	Channels ChannelsConfig `json:"channels"`

	// Digest controls the optional daily per-user summary job.
	Digest *DigestConfig `json:"digest,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig points the engine at the shared SQLite database.
//
// The database is shared with the host task manager: the engine reads
// tasks and user_settings and owns the notifications table.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// EngineConfig controls the poller.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "60s"
//   - batch_limit: 100
//   - timezone: process-local
type EngineConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`

	// BatchLimit caps how many due records one poll cycle will claim.
	BatchLimit int `json:"batch_limit,omitempty"`

	// Timezone is an IANA zone name (e.g. "Asia/Ho_Chi_Minh").
	// Trigger timestamps carry no explicit zone; they are interpreted in
	// this zone. Empty means the process-local zone.
	Timezone string `json:"timezone,omitempty"`
}

// DispatchConfig controls per-channel delivery attempts.
//
// Defaults: retry_max 3, retry_base "1s" (linear backoff: base × attempt),
// send_timeout "30s", rate_per_sec 3.
type DispatchConfig struct {
	RetryMax    int    `json:"retry_max,omitempty"`
	RetryBase   string `json:"retry_base,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

type ChannelsConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Email    *EmailConfig    `json:"email,omitempty"`
	Zalo     *ZaloConfig     `json:"zalo,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string used by the bot long poller.
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type EmailConfig struct {
	SMTPServer string `json:"smtp_server"`
	SMTPPort   int    `json:"smtp_port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	FromEmail  string `json:"from_email,omitempty"`
	FromName   string `json:"from_name,omitempty"`
}

type ZaloConfig struct {
	AccessToken string `json:"access_token"`
	OAID        string `json:"oa_id"`
	APIURL      string `json:"api_url,omitempty"` // default: Zalo OA v2 endpoint
}

// DigestConfig controls the daily digest job.
//
// Spec is a cron expression for when the engine scans for users whose
// digest time has arrived (default "* * * * *", i.e. minute resolution;
// the per-user send time comes from the daily_digest_time user setting).
type DigestConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec,omitempty"`
}
