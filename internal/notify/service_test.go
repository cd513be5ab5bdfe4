package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nudged/internal/eventbus"
	logx "nudged/pkg/logx"
)

type fakeSink struct {
	name string
	err  error

	mu   sync.Mutex
	got  []Notification
	done chan struct{}
}

func newFakeSink(name string, wantSends int) *fakeSink {
	return &fakeSink{name: name, done: make(chan struct{}, wantSends)}
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(_ context.Context, n Notification) error {
	f.mu.Lock()
	f.got = append(f.got, n)
	f.mu.Unlock()
	select {
	case f.done <- struct{}{}:
	default:
	}
	return f.err
}

func (f *fakeSink) sent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.got...)
}

func (f *fakeSink) waitSend(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sink %s: no send observed", f.name)
	}
}

func testNotification(ruleID string) Notification {
	return Notification{
		RuleID: ruleID,
		Title:  "Drink water",
		Body:   "time to drink",
		FireAt: time.Date(2025, 10, 13, 9, 15, 0, 0, time.Local),
	}
}

func TestServiceDeliversToAllSinks(t *testing.T) {
	a := newFakeSink("a", 1)
	b := newFakeSink("b", 1)
	s := New(Config{Workers: 1, RatePerSec: 100}, []Sink{a, b}, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Notify(ctx, testNotification("water")); err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	a.waitSend(t)
	b.waitSend(t)

	if got := a.sent(); len(got) != 1 || got[0].RuleID != "water" {
		t.Errorf("sink a got %+v, want one notification for water", got)
	}
	if got := b.sent(); len(got) != 1 {
		t.Errorf("sink b got %d sends, want 1", len(got))
	}
	if hist := s.Snapshot(); len(hist) != 1 || hist[0].RuleID != "water" {
		t.Errorf("Snapshot() = %+v, want one entry for water", hist)
	}
}

func TestServiceSinkFailureIsIsolated(t *testing.T) {
	bad := newFakeSink("bad", 1)
	bad.err = errors.New("wire down")
	good := newFakeSink("good", 1)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Workers: 1, RatePerSec: 100, RetryMax: 0}, []Sink{bad, good}, logx.Nop(), bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	if err := s.Notify(ctx, testNotification("water")); err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	good.waitSend(t)

	var sawFailed, sawSent bool
	deadline := time.After(2 * time.Second)
	for !(sawFailed && sawSent) {
		select {
		case ev := <-events:
			switch ev.Type {
			case eventbus.TypeNotifyFailed:
				sawFailed = true
			case eventbus.TypeNotifySent:
				if d, ok := ev.Data.(DeliveryEvent); ok && d.Sink == "good" {
					sawSent = true
				}
			}
		case <-deadline:
			t.Fatalf("events: failed=%v sent=%v, want both", sawFailed, sawSent)
		}
	}
}

func TestServiceRetriesFailedSend(t *testing.T) {
	flaky := newFakeSink("flaky", 2)
	flaky.err = errors.New("transient")
	s := New(Config{
		Workers: 1, RatePerSec: 100,
		RetryMax: 1, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond,
	}, []Sink{flaky}, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	if err := s.Notify(ctx, testNotification("water")); err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	flaky.waitSend(t)
	flaky.waitSend(t)
	s.Stop(context.Background())

	if got := len(flaky.sent()); got != 2 {
		t.Errorf("send attempts = %d, want 2 (original + 1 retry)", got)
	}
}

func TestServiceDedupWithinWindow(t *testing.T) {
	sink := newFakeSink("a", 1)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Workers: 1, RatePerSec: 100, DedupWindow: time.Minute}, []Sink{sink}, logx.Nop(), bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	n := testNotification("water")
	if err := s.Notify(ctx, n); err != nil {
		t.Fatalf("first Notify() = %v", err)
	}
	if err := s.Notify(ctx, n); err != nil {
		t.Fatalf("second Notify() = %v", err)
	}
	sink.waitSend(t)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TypeNotifyDeduped {
				if got := len(sink.sent()); got != 1 {
					t.Errorf("sink got %d sends, want 1", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("no notify.deduped event observed")
		}
	}
}

func TestServiceDistinctInstantsNotDeduped(t *testing.T) {
	sink := newFakeSink("a", 2)
	s := New(Config{Workers: 1, RatePerSec: 100, DedupWindow: time.Minute}, []Sink{sink}, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	first := testNotification("water")
	second := first
	second.FireAt = first.FireAt.Add(15 * time.Minute)
	if err := s.Notify(ctx, first); err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	if err := s.Notify(ctx, second); err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	sink.waitSend(t)
	sink.waitSend(t)
	s.Stop(context.Background())

	if got := len(sink.sent()); got != 2 {
		t.Errorf("sink got %d sends, want 2", got)
	}
}

func TestServiceRejectsWhenStopped(t *testing.T) {
	s := New(Config{}, []Sink{newFakeSink("a", 1)}, logx.Nop(), nil)
	if err := s.Notify(context.Background(), testNotification("water")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify() before Start = %v, want ErrStopped", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Stop(context.Background())
	if err := s.Notify(context.Background(), testNotification("water")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify() after Stop = %v, want ErrStopped", err)
	}
}

func TestServiceStopDrainsQueue(t *testing.T) {
	sink := newFakeSink("a", 3)
	s := New(Config{Workers: 1, RatePerSec: 1000}, []Sink{sink}, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	for i, id := range []string{"a", "b", "c"} {
		n := testNotification(id)
		n.FireAt = n.FireAt.Add(time.Duration(i) * time.Minute)
		if err := s.Notify(ctx, n); err != nil {
			t.Fatalf("Notify(%s) = %v", id, err)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)

	if got := len(sink.sent()); got != 3 {
		t.Errorf("drained %d sends, want 3", got)
	}
}
