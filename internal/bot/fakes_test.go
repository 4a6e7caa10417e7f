package bot

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gatebot/internal/broadcast"
	"gatebot/internal/runtime/supervisor"
	"gatebot/internal/storage"
	kit "gatebot/internal/transport"
	"gatebot/internal/userstore"
	"gatebot/pkg/logx"
)

const adminID int64 = 1

type sentMsg struct {
	chat int64
	text string
	file kit.FileRef
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMsg
	answers []string
	pins    int
	failFor map[int64]error
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{failFor: map[int64]error{}} }

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) record(to kit.ChatTarget, text string, file kit.FileRef, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	f.nextID++
	f.sent = append(f.sent, sentMsg{chat: to.ChatID, text: text, file: file, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(to, text, "", opt)
}

func (f *fakeAdapter) SendFile(_ context.Context, to kit.ChatTarget, file kit.FileRef, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(to, caption, file, opt)
}

func (f *fakeAdapter) Pin(context.Context, kit.MessageRef, bool) error {
	f.mu.Lock()
	f.pins++
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	f.answers = append(f.answers, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) to(chat int64) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, m := range f.sent {
		if m.chat == chat {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAdapter) last(chat int64) sentMsg {
	msgs := f.to(chat)
	if len(msgs) == 0 {
		return sentMsg{}
	}
	return msgs[len(msgs)-1]
}

func (f *fakeAdapter) answered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.answers...)
}

type noSleep struct{}

func (noSleep) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type harness struct {
	bot     *Bot
	adapter *fakeAdapter
	users   *userstore.MemoryStore
	audit   storage.Store
	runs    *supervisor.Supervisor
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fa := newFakeAdapter()
	users := userstore.NewMemoryStore()
	audit, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	runs := supervisor.New(context.Background())
	t.Cleanup(runs.Cancel)

	engine := broadcast.New(broadcast.Config{}, fa, users, logx.Nop(), broadcast.WithSleeper(noSleep{}))
	b := New(Deps{
		Adapter:  fa,
		Users:    users,
		Engine:   engine,
		Audit:    audit,
		Runs:     runs,
		Cooldown: NewCooldown(time.Minute),
		Log:      logx.Nop(),
	}, Options{Admins: []int64{adminID}, VerificationURL: "https://verify.example.com/v"})
	return &harness{bot: b, adapter: fa, users: users, audit: audit, runs: runs}
}

func (h *harness) send(from int64, text string) {
	h.sendMsg(&kit.Message{ChatID: from, FromID: from, Text: text})
}

func (h *harness) sendMsg(m *kit.Message) {
	h.bot.Router().Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: m})
}

func (h *harness) click(from int64, data string) {
	h.bot.Router().Handle(context.Background(), kit.Update{
		Kind:     kit.UpdateCallback,
		Callback: &kit.Callback{ID: "cb", FromID: from, ChatID: from, Data: data},
	})
}

func (h *harness) waitRuns(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.runs.Wait(ctx))
}

func (h *harness) addUsers(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, h.users.AddUser(context.Background(), userstore.User{ID: id}))
	}
}
