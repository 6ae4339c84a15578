package notify

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "wknotifier/pkg/logx"
)

const openUnique = "wkn_open"

// TelegramConfig configures the Telegram sink.
type TelegramConfig struct {
	Token       string
	ChatID      int64
	ThreadID    int
	RatePerSec  int
	RetryMax    int
	PollTimeout time.Duration
	Resolve     Resolver
	Log         logx.Logger
}

// sender is the part of *tele.Bot used to deliver messages.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram posts notifications to one chat with an "Open" button. Pressing
// the button replies with the page for the current notified state.
type Telegram struct {
	cfg     TelegramConfig
	bot     *tele.Bot
	send    sender
	limiter *rate.Limiter
	log     logx.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		// Skip getMe so startup does not depend on Telegram being reachable.
		Offline: true,
		OnError: func(err error, c tele.Context) {
			cfg.Log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	t := newTelegram(cfg, b)
	t.bot = b
	b.Handle(&tele.Btn{Unique: openUnique}, t.handleOpen)
	return t, nil
}

func newTelegram(cfg TelegramConfig, s sender) *Telegram {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	return &Telegram{
		cfg:     cfg,
		send:    s,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     cfg.Log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Run polls Telegram for button presses until ctx ends.
func (t *Telegram) Run(ctx context.Context) error {
	if t.bot == nil {
		<-ctx.Done()
		return nil
	}
	go func() {
		<-ctx.Done()
		t.bot.Stop()
	}()
	t.log.Info("telegram polling started")
	t.bot.Start() // blocks until Stop
	t.log.Info("telegram polling stopped")
	return nil
}

// Notify sends n with rate limiting and jittered retries. Silent delivery is
// used when n.Sound is false.
func (t *Telegram) Notify(ctx context.Context, n Notification) error {
	text := n.Body
	if n.Title != "" {
		text = n.Title + "\n" + n.Body
	}
	markup := &tele.ReplyMarkup{}
	if t.cfg.Resolve != nil {
		markup.Inline(markup.Row(markup.Data("Open", openUnique)))
	}
	opts := &tele.SendOptions{
		ThreadID:            t.cfg.ThreadID,
		DisableNotification: !n.Sound,
		ReplyMarkup:         markup,
	}

	attempts := 1
	if t.cfg.RetryMax > 0 {
		attempts += t.cfg.RetryMax
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := t.send.Send(tele.ChatID(t.cfg.ChatID), text, opts)
		if err == nil {
			return nil
		}
		lastErr = err
		t.log.Debug("telegram send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}

		delay := t.retryDelay(attempt)
		var flood tele.FloodError
		if errors.As(err, &flood) && flood.RetryAfter > 0 {
			delay = time.Duration(flood.RetryAfter) * time.Second
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// retryDelay is 500ms doubled per attempt, capped at 10s, with 0.7..1.3 jitter.
func (t *Telegram) retryDelay(attempt int) time.Duration {
	const maxDelay = 10 * time.Second
	d := 500 * time.Millisecond
	for i := 1; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}
	t.rngMu.Lock()
	j := 0.7 + t.rng.Float64()*0.6
	t.rngMu.Unlock()
	return time.Duration(float64(d) * j)
}

func (t *Telegram) handleOpen(c tele.Context) error {
	if chat := c.Chat(); chat == nil || chat.ID != t.cfg.ChatID {
		return c.Respond()
	}
	text, markup := t.openReply()
	if markup == nil {
		return c.Respond(&tele.CallbackResponse{Text: text})
	}
	_ = c.Respond()
	return c.Send(text, &tele.SendOptions{ThreadID: t.cfg.ThreadID, ReplyMarkup: markup})
}

// openReply resolves the link at press time.
func (t *Telegram) openReply() (string, *tele.ReplyMarkup) {
	if t.cfg.Resolve == nil {
		return "Nothing to open.", nil
	}
	link, ok := t.cfg.Resolve()
	if !ok {
		return "Nothing pending right now.", nil
	}
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(markup.URL("Open WaniKani", link)))
	return link, markup
}
