package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trevor/mailman3/message"
	"github.com/trevor/mailman3/queue"
)

type fakeHandler struct {
	name   string
	err    error
	calls  int
	mutate func(msg *message.Message)
}

func (f *fakeHandler) Name() string { return f.name }

func (f *fakeHandler) Process(_ context.Context, _ *queue.Entry, msg *message.Message) error {
	f.calls++
	if f.mutate != nil {
		f.mutate(msg)
	}
	return f.err
}

type panicHandler struct{}

func (panicHandler) Name() string { return "boom" }
func (panicHandler) Process(context.Context, *queue.Entry, *message.Message) error {
	panic("handler exploded")
}

func newQueues(t *testing.T) (in, shunt *queue.Queue) {
	t.Helper()
	store, err := queue.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	in, _ = store.Queue(queue.In)
	shunt, _ = store.Queue(queue.Shunt)
	return in, shunt
}

func enqueue(t *testing.T, q *queue.Queue) *queue.Entry {
	t.Helper()
	msg, err := message.Parse([]byte("From: anne@example.com\r\nMessage-ID: <ant>\r\n\r\nhello\r\n"))
	if err != nil {
		t.Fatalf("Failed to parse message: %v", err)
	}
	entry, err := q.Enqueue(msg, map[string]string{queue.MetaListname: "ant@example.com"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return entry
}

func TestRunnerChain(t *testing.T) {
	ctx := context.Background()

	t.Run("All handlers succeed in order", func(t *testing.T) {
		in, shunt := newQueues(t)
		first := &fakeHandler{name: "first", mutate: func(m *message.Message) { m.Append("X-Seen", "first") }}
		second := &fakeHandler{name: "second"}
		r := NewRunner(in, shunt, []Handler{first, second}, time.Minute)

		enqueue(t, in)
		r.drain(ctx)

		if first.calls != 1 || second.calls != 1 {
			t.Errorf("Handler call counts wrong: first=%d second=%d", first.calls, second.calls)
		}
		pending, processing, _ := in.Stats()
		if pending != 0 || processing != 0 {
			t.Errorf("Entry not finished: pending=%d processing=%d", pending, processing)
		}
	})

	t.Run("Rejection discards and stops the chain", func(t *testing.T) {
		in, shunt := newQueues(t)
		rejecting := &fakeHandler{name: "reject", err: ErrRejected}
		after := &fakeHandler{name: "after"}
		r := NewRunner(in, shunt, []Handler{rejecting, after}, time.Minute)

		enqueue(t, in)
		r.drain(ctx)

		if after.calls != 0 {
			t.Error("Handler after rejection was still invoked")
		}
		pending, processing, _ := in.Stats()
		if pending != 0 || processing != 0 {
			t.Error("Rejected entry not discarded")
		}
		if shunted, _, _ := shunt.Claim(); shunted != nil {
			t.Error("Rejected entry was shunted instead of discarded")
		}
	})

	t.Run("Failure shunts with last error", func(t *testing.T) {
		in, shunt := newQueues(t)
		failing := &fakeHandler{name: "fail", err: errors.New("storage on fire")}
		after := &fakeHandler{name: "after"}
		r := NewRunner(in, shunt, []Handler{failing, after}, time.Minute)

		enqueue(t, in)
		r.drain(ctx)

		if after.calls != 0 {
			t.Error("Handler after failure was still invoked")
		}
		shunted, _, err := shunt.Claim()
		if err != nil || shunted == nil {
			t.Fatalf("Entry not shunted: %v", err)
		}
		if shunted.Metadata[queue.MetaLastError] != "storage on fire" {
			t.Errorf("last_error not recorded: %v", shunted.Metadata)
		}
		if shunted.Retries != 1 {
			t.Errorf("Retry counter not bumped: %d", shunted.Retries)
		}
	})

	t.Run("Panic shunts and loop continues", func(t *testing.T) {
		in, shunt := newQueues(t)
		r := NewRunner(in, shunt, []Handler{panicHandler{}}, time.Minute)

		enqueue(t, in)
		enqueue(t, in)
		r.drain(ctx)

		count := 0
		for {
			shunted, _, err := shunt.Claim()
			if err != nil {
				t.Fatalf("Claim from shunt failed: %v", err)
			}
			if shunted == nil {
				break
			}
			count++
		}
		if count != 2 {
			t.Errorf("Expected both entries shunted, got %d", count)
		}
	})

	t.Run("Later handlers observe mutations", func(t *testing.T) {
		in, shunt := newQueues(t)
		var seen string
		first := &fakeHandler{name: "first", mutate: func(m *message.Message) { m.Append("X-Mark", "yes") }}
		second := &fakeHandler{name: "second", mutate: func(m *message.Message) { seen = m.Get("X-Mark") }}
		r := NewRunner(in, shunt, []Handler{first, second}, time.Minute)

		enqueue(t, in)
		r.drain(ctx)

		if seen != "yes" {
			t.Errorf("Mutation not visible to later handler: %q", seen)
		}
	})
}

func TestRunnerLifecycle(t *testing.T) {
	in, shunt := newQueues(t)
	h := &fakeHandler{name: "noop"}
	r := NewRunner(in, shunt, []Handler{h}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	r.Start(ctx) // idempotent

	enqueue(t, in)
	r.NotifyQueued()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		pending, processing, _ := in.Stats()
		if pending == 0 && processing == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	pending, processing, _ := in.Stats()
	if pending != 0 || processing != 0 {
		t.Errorf("Notified entry not processed: pending=%d processing=%d", pending, processing)
	}

	r.Stop()
	r.Stop() // idempotent
}
