package adapter

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "gatebot/internal/runtime/supervisor"
	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter implements kit.Adapter on top of telebot's long poller.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
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
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if m := toMessage(c.Message()); m != nil {
			a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: m})
		}
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil || cb.Sender == nil {
			return nil
		}
		up := kit.Callback{ID: cb.ID, FromID: cb.Sender.ID, Data: cb.Data}
		if m := c.Message(); m != nil && m.Chat != nil {
			up.ChatID = m.Chat.ID
			up.MessageID = m.ID
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateCallback, Callback: &up})
		return nil
	})
}

func toMessage(m *tele.Message) *kit.Message {
	if m == nil || m.Chat == nil {
		return nil
	}
	out := &kit.Message{ID: m.ID, ChatID: m.Chat.ID, Text: m.Text}
	if s := m.Sender; s != nil {
		out.FromID = s.ID
		out.FromUsername = s.Username
		out.FromName = strings.TrimSpace(s.FirstName + " " + s.LastName)
	}
	if ref := mediaRef(m); ref != "" {
		out.File = ref
		out.Text = m.Caption
	}
	if m.ReplyTo != nil && m.ReplyTo != m {
		out.ReplyTo = toMessage(m.ReplyTo)
	}
	return out
}

func mediaRef(m *tele.Message) kit.FileRef {
	switch {
	case m.Photo != nil:
		return kit.NewFileRef(kit.MediaPhoto, m.Photo.FileID)
	case m.Video != nil:
		return kit.NewFileRef(kit.MediaVideo, m.Video.FileID)
	case m.Animation != nil:
		return kit.NewFileRef(kit.MediaAnimation, m.Animation.FileID)
	case m.Audio != nil:
		return kit.NewFileRef(kit.MediaAudio, m.Audio.FileID)
	case m.Document != nil:
		return kit.NewFileRef(kit.MediaDocument, m.Document.FileID)
	}
	return ""
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop; restart it if it returns while we still run.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(chanCap int) {
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", chanCap))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// Long poll may still be waiting; never hold shutdown longer than the grace window.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}

// SetCommands publishes the command menu.
func (a *Adapter) SetCommands(cmds []kit.BotCommand) error {
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		out = append(out, tele.Command{Text: c.Command, Description: d})
	}
	return mapError(a.bot.SetCommands(out))
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := sendOptions(opt)
		// Markup goes on the first chunk only.
		if i > 0 {
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, mapError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendFile(ctx context.Context, to kit.ChatTarget, file kit.FileRef, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, media(file, caption), sendOptions(opt))
	if err != nil {
		return kit.MessageRef{}, mapError(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) Pin(ctx context.Context, ref kit.MessageRef, notify bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	var opts []interface{}
	if !notify {
		opts = append(opts, tele.Silent)
	}
	return mapError(a.bot.Pin(m, opts...))
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text}))
}

func sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.Silent,
		ReplyMarkup:           inlineMarkup(opt.Buttons),
	}
}

func inlineMarkup(rows [][]kit.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	out := make([]tele.Row, 0, len(rows))
	for _, r := range rows {
		row := make(tele.Row, 0, len(r))
		for _, b := range r {
			if b.URL != "" {
				row = append(row, tele.Btn{Text: b.Text, URL: b.URL})
			} else {
				row = append(row, tele.Btn{Text: b.Text, Data: b.Data})
			}
		}
		if len(row) > 0 {
			out = append(out, row)
		}
	}
	rm.Inline(out...)
	return rm
}

func fileFrom(src string) tele.File {
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return tele.FromURL(src)
	case strings.HasPrefix(src, "/"), strings.HasPrefix(src, "./"):
		if _, err := os.Stat(src); err == nil {
			return tele.FromDisk(src)
		}
	}
	return tele.File{FileID: src}
}

func media(ref kit.FileRef, caption string) interface{} {
	kind, src := ref.Split()
	f := fileFrom(src)
	switch kind {
	case kit.MediaPhoto:
		return &tele.Photo{File: f, Caption: caption}
	case kit.MediaVideo:
		return &tele.Video{File: f, Caption: caption}
	case kit.MediaAudio:
		return &tele.Audio{File: f, Caption: caption}
	case kit.MediaAnimation:
		return &tele.Animation{File: f, Caption: caption}
	default:
		return &tele.Document{File: f, Caption: caption}
	}
}
