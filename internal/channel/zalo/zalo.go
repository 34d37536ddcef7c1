package zalo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"remindd/internal/channel"
	logx "remindd/pkg/logx"
)

const defaultAPIURL = "https://openapi.zalo.me/v2.0/oa"

type Config struct {
	AccessToken string
	OAID        string
	APIURL      string
}

// Adapter delivers reminders through a Zalo Official Account.
// The OA message API is plain JSON over HTTP; there is no Go SDK worth
// depending on.
type Adapter struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" || strings.TrimSpace(cfg.OAID) == "" {
		return nil, errors.New("zalo: access_token and oa_id are required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, http: &http.Client{Timeout: 30 * time.Second}}, nil
}

func (a *Adapter) Name() string { return channel.Zalo }

func (a *Adapter) Send(ctx context.Context, destination string, msg channel.Message) error {
	uid := strings.TrimSpace(destination)
	if uid == "" {
		return errors.New("zalo: empty destination")
	}
	text := msg.Text
	if text == "" {
		return errors.New("zalo: empty message")
	}

	payload := map[string]any{
		"recipient": map[string]string{"user_id": uid},
		"message":   map[string]string{"text": text},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIURL+"/message", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("access_token", a.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("zalo send to %s: %w", uid, err)
	}
	defer resp.Body.Close()

	var out struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode/100 != 2 || out.Error != 0 {
		return fmt.Errorf("zalo send to %s failed: %s (error=%d http=%d)", uid, out.Message, out.Error, resp.StatusCode)
	}
	return nil
}

// Healthcheck verifies the OA credentials are present. The OA API has no
// cheap unauthenticated ping; a bad token surfaces on the first send.
func (a *Adapter) Healthcheck(ctx context.Context) error {
	if a.cfg.AccessToken == "" || a.cfg.OAID == "" {
		return errors.New("zalo: credentials not configured")
	}
	a.log.Info("zalo oa configured", logx.String("oa_id", a.cfg.OAID))
	return nil
}
