// Package telegram is the operator chat surface: a long-polling bot that
// accepts scheduling commands from owners and delivers alert text.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "winkdrops/internal/runtime/supervisor"
	logx "winkdrops/pkg/logx"
)

type Config struct {
	Token        string
	OwnerUserIDs []int64
	PollTimeout  time.Duration
}

type Bot struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{cfg: cfg, log: log, bot: b}, nil
}

// Register mounts the command set. Call before Start.
func (b *Bot) Register(cmds *Commands) {
	b.bot.Use(b.ownerOnly, b.recoverPanic)
	for _, c := range cmds.List() {
		b.bot.Handle("/"+c.Name, func(tc tele.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			start := time.Now()
			payload := ""
			if m := tc.Message(); m != nil {
				payload = m.Payload
			}
			reply, err := cmds.Run(ctx, c.Name, tokenize(payload))
			fields := []logx.Field{
				logx.String("cmd", c.Name),
				logx.Int64("from_id", tc.Sender().ID),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				b.log.Warn("command failed", append(fields, logx.Err(err))...)
				reply = "⚠️ " + escape(err.Error())
			} else {
				b.log.Debug("command ok", fields...)
			}
			return tc.Send(reply, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true})
		})
	}
}

func (b *Bot) ownerOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Sender() == nil || !isOwner(b.cfg.OwnerUserIDs, c.Sender().ID) {
			b.log.Debug("ignored update from non-owner")
			return nil
		}
		return next(c)
	}
}

func (b *Bot) recoverPanic(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("panic recovered", logx.Any("panic", r))
				err = nil
			}
		}()
		return next(c)
	}
}

func isOwner(owners []int64, id int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}

func (b *Bot) Start(ctx context.Context) {
	b.runMu.Lock()
	if b.running {
		b.runMu.Unlock()
		return
	}
	b.running = true
	b.sup = rtsup.New(ctx,
		rtsup.WithLogger(b.log.Named("telegram.bot")),
		rtsup.WithCancelOnError(false),
	)
	sup := b.sup
	b.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		b.bot.Stop()
	})
	// bot.Start returns when stopped; restart it if that happens while running.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		b.log.Info("polling started")
		b.bot.Start()
		b.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, 500*time.Millisecond, 10*time.Second)
}

// Stop cancels polling and waits at most two seconds for it to exit.
func (b *Bot) Stop(ctx context.Context) {
	b.runMu.Lock()
	sup := b.sup
	wasRunning := b.running
	b.sup, b.running = nil, false
	b.runMu.Unlock()
	if !wasRunning || sup == nil {
		return
	}
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		b.log.Debug("telegram stopped with error", logx.Err(err))
	}
}

// SendText sends HTML text to chatID, split into Telegram-sized chunks.
func (b *Bot) SendText(ctx context.Context, chatID int64, htmlText string) error {
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(htmlText, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := b.bot.Send(chat, chunk, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	return nil
}

const textLimit = 4000

// splitText splits on newlines near the limit and never inside an HTML tag.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
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
