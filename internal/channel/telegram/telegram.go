package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindd/internal/channel"
	logx "remindd/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter delivers reminders through the Telegram Bot API. It is
// send-only: the engine never consumes updates, so no poller is started.
type Adapter struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	http *http.Client
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Offline keeps NewBot from calling getMe; connectivity is verified
	// explicitly via Healthcheck so a Telegram outage can't block startup.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

func (a *Adapter) Name() string { return channel.Telegram }

func (a *Adapter) Send(ctx context.Context, destination string, msg channel.Message) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(destination), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: destination %q is not a chat id: %w", destination, err)
	}

	text := msg.HTML
	if text == "" {
		text = msg.Text
	}
	if text == "" {
		return errors.New("telegram: empty message")
	}

	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
		})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send to %d: %w", chatID, err)
		}
		return nil
	case <-ctx.Done():
		// The API call is abandoned; the bot's own HTTP timeout reaps it.
		return ctx.Err()
	}
}

// Healthcheck calls getMe directly over HTTP so it can honor ctx.
func (a *Adapter) Healthcheck(ctx context.Context) error {
	url := "https://api.telegram.org/bot" + strings.TrimSpace(a.cfg.Token) + "/getMe"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK     bool `json:"ok"`
		Result struct {
			Username string `json:"username"`
		} `json:"result"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("telegram getMe failed: %s (http=%d)", out.Description, resp.StatusCode)
		}
		return fmt.Errorf("telegram getMe failed: http=%d", resp.StatusCode)
	}
	a.log.Info("telegram connected", logx.String("bot", "@"+out.Result.Username))
	return nil
}
