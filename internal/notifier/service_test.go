package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"repowatch/internal/eventbus"
	logx "repowatch/pkg/logx"
)

type recordSink struct {
	name string

	mu     sync.Mutex
	shown  []string
	failN  int // fail this many calls before succeeding
	always bool
}

func (r *recordSink) Name() string { return r.name }

func (r *recordSink) Show(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.always {
		return errors.New("sink down")
	}
	if r.failN > 0 {
		r.failN--
		return errors.New("transient")
	}
	r.shown = append(r.shown, n.Title)
	return nil
}

func (r *recordSink) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.shown...)
}

func testConfig() Config {
	return Config{
		QueueSize:     16,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
	}
}

func TestNotifyPreservesOrder(t *testing.T) {
	t.Parallel()

	sink := &recordSink{name: "rec"}
	s := New(testConfig(), []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())

	want := []string{"overflow", "c11", "c12", "c13"}
	for _, title := range want {
		if err := s.Notify(context.Background(), Notification{Repo: "r", Title: title}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	got := sink.titles()
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if h := s.History(); len(h) != len(want) {
		t.Fatalf("history=%d want %d", len(h), len(want))
	}
}

func TestFailingSinkDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	bad := &recordSink{name: "bad", always: true}
	good := &recordSink{name: "good"}
	s := New(testConfig(), []Sink{bad, good}, logx.Nop(), bus)
	s.Start(context.Background())

	if err := s.Notify(context.Background(), Notification{Repo: "r", Title: "hello"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	if got := good.titles(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("good sink got %v", got)
	}

	var failed, sent int
	for len(events) > 0 {
		e := <-events
		switch e.Type {
		case eventbus.TypeNotifyFailed:
			failed++
		case eventbus.TypeNotifySent:
			sent++
		}
	}
	if failed != 1 || sent != 1 {
		t.Fatalf("failed=%d sent=%d", failed, sent)
	}
}

func TestRetryRecoversTransientFailure(t *testing.T) {
	t.Parallel()

	sink := &recordSink{name: "flaky", failN: 2}
	s := New(testConfig(), []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), Notification{Title: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	if got := sink.titles(); len(got) != 1 {
		t.Fatalf("got %v", got)
	}
}

func TestNotifyAfterStop(t *testing.T) {
	t.Parallel()

	s := New(testConfig(), []Sink{&recordSink{name: "rec"}}, logx.Nop(), nil)
	if err := s.Notify(context.Background(), Notification{Title: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("before start: err=%v", err)
	}
	s.Start(context.Background())
	s.Stop(context.Background())
	if err := s.Notify(context.Background(), Notification{Title: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop: err=%v", err)
	}
}

func TestNotifyWithoutSinks(t *testing.T) {
	t.Parallel()

	s := New(testConfig(), nil, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if err := s.Notify(context.Background(), Notification{Title: "x"}); !errors.Is(err, ErrNoSinks) {
		t.Fatalf("err=%v", err)
	}
}

func TestStopDrainsAfterParentCancel(t *testing.T) {
	t.Parallel()

	sink := &recordSink{name: "rec"}
	cfg := testConfig()
	cfg.QueueSize = 64
	cfg.RatePerSec = 20
	s := New(cfg, []Sink{sink}, logx.Nop(), nil)

	parent, cancelParent := context.WithCancel(context.Background())
	s.Start(parent)
	for i := range 30 {
		if err := s.Notify(context.Background(), Notification{Repo: "r", Title: fmt.Sprintf("c%d", i)}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	cancelParent()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	if got := sink.titles(); len(got) != 30 {
		t.Fatalf("delivered %d of 30: %v", len(got), got)
	}
}

type blockingSink struct{}

func (blockingSink) Name() string { return "block" }

func (blockingSink) Show(ctx context.Context, _ Notification) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStopDeadlineReportsDropped(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	cfg := testConfig()
	cfg.RetryMax = 0
	s := New(cfg, []Sink{blockingSink{}}, logx.Nop(), bus)
	s.Start(context.Background())
	for _, title := range []string{"a", "b", "c"} {
		if err := s.Notify(context.Background(), Notification{Repo: "r", Title: title}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Stop(ctx)

	failed := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(failed) < 3 {
		select {
		case e := <-events:
			if e.Type != eventbus.TypeNotifyFailed {
				continue
			}
			ev, ok := e.Data.(NotificationEvent)
			if !ok {
				t.Fatalf("unexpected event data %T", e.Data)
			}
			failed[ev.Title] = true
		case <-timeout:
			t.Fatalf("failure events for %v only", failed)
		}
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %v out of range", attempt, d)
		}
	}
}
