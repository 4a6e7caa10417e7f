package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	kit "gatebot/internal/transport"
)

type sendCall struct {
	To      int64
	Text    string
	File    kit.FileRef
	Options kit.SendOptions
}

// fakeClient scripts one error per (recipient, attempt); unscripted attempts succeed.
type fakeClient struct {
	mu      sync.Mutex
	script  map[int64][]error
	sends   []sendCall
	pins    []kit.MessageRef
	pinErr  error
	nextID  int
	onSend  func(to int64)
	attempt map[int64]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{script: map[int64][]error{}, attempt: map[int64]int{}}
}

func (c *fakeClient) failWith(id int64, errs ...error) *fakeClient {
	c.mu.Lock()
	c.script[id] = errs
	c.mu.Unlock()
	return c
}

func (c *fakeClient) record(to kit.ChatTarget, text string, file kit.FileRef, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	call := sendCall{To: to.ChatID, Text: text, File: file}
	if opt != nil {
		call.Options = *opt
	}
	c.sends = append(c.sends, call)
	n := c.attempt[to.ChatID]
	c.attempt[to.ChatID] = n + 1
	var err error
	if s := c.script[to.ChatID]; n < len(s) {
		err = s[n]
	}
	c.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, MessageID: c.nextID}
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook(to.ChatID)
	}
	if err != nil {
		return kit.MessageRef{}, err
	}
	return ref, nil
}

func (c *fakeClient) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return c.record(to, text, "", opt)
}

func (c *fakeClient) SendFile(_ context.Context, to kit.ChatTarget, file kit.FileRef, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return c.record(to, caption, file, opt)
}

func (c *fakeClient) Pin(_ context.Context, ref kit.MessageRef, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins = append(c.pins, ref)
	return c.pinErr
}

func (c *fakeClient) sendsTo(id int64) []sendCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sendCall
	for _, s := range c.sends {
		if s.To == id {
			out = append(out, s)
		}
	}
	return out
}

// deliveries counts sends excluding the ones addressed to operator.
func (c *fakeClient) deliveries(operator int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sends {
		if s.To != operator {
			n++
		}
	}
	return n
}

type fakeSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return nil
}

func (s *fakeSleeper) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

func (s *fakeSleeper) total() time.Duration {
	var sum time.Duration
	for _, d := range s.durations() {
		sum += d
	}
	return sum
}

type fakeSource struct {
	users   []int64
	banned  map[int64]bool
	valid   map[int64]bool
	listErr error
	banErr  map[int64]error
}

func (s *fakeSource) AllUsers(context.Context) ([]int64, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]int64(nil), s.users...), nil
}

func (s *fakeSource) IsBanned(_ context.Context, id int64) (bool, error) {
	if err := s.banErr[id]; err != nil {
		return false, err
	}
	return s.banned[id], nil
}

func (s *fakeSource) IsTokenValid(_ context.Context, id int64) (bool, error) {
	return s.valid[id], nil
}

func usersRange(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i + 1)
	}
	return out
}

var errBoom = errors.New("boom")
