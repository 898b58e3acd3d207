// Package telegram sends alerts to a Telegram chat through the Bot API.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	tele "gopkg.in/telebot.v4"

	logx "specsync/pkg/logx"
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// Timeout bounds one API call; 0 means 10s.
	Timeout time.Duration
}

type Sender struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = cfg.Timeout
	// Send-only: no poller, no getMe round trip at startup.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  hc,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{cfg: cfg, bot: b, log: log}, nil
}

func (s *Sender) Name() string { return "telegram" }

// SendText sends text, split into chunks Telegram accepts.
func (s *Sender) SendText(ctx context.Context, text string) error {
	chat := &tele.Chat{ID: s.cfg.ChatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.bot.Send(chat, chunk, &tele.SendOptions{
			DisableWebPagePreview: true,
			ThreadID:              s.cfg.ThreadID,
		}); err != nil {
			return err
		}
	}
	return nil
}

const textLimit = 4000

// splitText splits long messages into chunks of at most limit runes,
// preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		// Prefer a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
