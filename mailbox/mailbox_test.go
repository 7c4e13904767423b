package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/agentcoord/bus"
	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/registry"
)

func newTestMailbox(t *testing.T, agents ...string) (*Mailbox, *registry.MemoryRegistry) {
	t.Helper()
	reg := registry.NewMemoryRegistry()
	for _, id := range agents {
		if err := reg.Register(registry.Registration{ID: id}); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}
	mb := New(reg)
	t.Cleanup(func() {
		mb.Close()
		reg.Close()
	})
	return mb, reg
}

// --- Send / Receive ---

func TestMailbox_SendUnknownRecipient(t *testing.T) {
	mb, _ := newTestMailbox(t, "a1")

	_, err := mb.Send(Message{Sender: "a1", Receiver: "ghost", Type: TypeNotice})
	if !errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("got %v, want ErrUnknownRecipient", err)
	}
	if mb.Pending("ghost") != 0 {
		t.Error("no mailbox should exist for an unknown recipient")
	}
}

func TestMailbox_SendStampsMessage(t *testing.T) {
	mb, _ := newTestMailbox(t, "a1", "a2")

	sent, err := mb.Send(Message{Sender: "a1", Receiver: "a2", Type: TypeNotice, Payload: "hi"})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if sent.ID == "" || sent.Timestamp.IsZero() {
		t.Errorf("Send should fill ID and Timestamp: %+v", sent)
	}

	got, ok, err := mb.TryReceive("a2")
	if err != nil || !ok {
		t.Fatalf("TryReceive = %v, %v", ok, err)
	}
	if got.ID != sent.ID || got.Payload != "hi" {
		t.Errorf("received %+v, want %+v", got, sent)
	}
	if _, ok, _ := mb.TryReceive("a2"); ok {
		t.Error("message should be consumed exactly once")
	}
}

func TestMailbox_FIFOPerSender(t *testing.T) {
	mb, _ := newTestMailbox(t, "a1", "a2", "a3")

	var wg sync.WaitGroup
	for _, sender := range []string{"a1", "a3"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				mb.Send(Message{Sender: sender, Receiver: "a2", Type: TypeNotice, Payload: i})
			}
		}(sender)
	}
	wg.Wait()

	last := map[string]int{"a1": -1, "a3": -1}
	for i := 0; i < 200; i++ {
		msg, ok, _ := mb.TryReceive("a2")
		if !ok {
			t.Fatalf("mailbox empty after %d messages", i)
		}
		n := msg.Payload.(int)
		if n != last[msg.Sender]+1 {
			t.Fatalf("from %s: got %d after %d", msg.Sender, n, last[msg.Sender])
		}
		last[msg.Sender] = n
	}
}

func TestMailbox_ReceiveBlocksUntilSend(t *testing.T) {
	mb, _ := newTestMailbox(t, "a1", "a2")

	got := make(chan Message, 1)
	go func() {
		msg, err := mb.Receive(context.Background(), "a2")
		if err != nil {
			t.Errorf("Receive error: %v", err)
			return
		}
		got <- msg
	}()

	time.Sleep(20 * time.Millisecond)
	mb.Send(Message{Sender: "a1", Receiver: "a2", Type: TypeNotice, Payload: "late"})

	select {
	case msg := <-got:
		if msg.Payload != "late" {
			t.Errorf("payload = %v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake up")
	}
}

func TestMailbox_ReceiveCancelled(t *testing.T) {
	mb, _ := newTestMailbox(t, "a1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := mb.Receive(ctx, "a1")
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("got %v, want ErrCancelled", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("cancellation should wrap the context error")
	}

	// A message sent after cancellation stays queued
	mb.Send(Message{Sender: "a1", Receiver: "a1", Type: TypeNotice})
	if mb.Pending("a1") != 1 {
		t.Errorf("Pending = %d, want 1", mb.Pending("a1"))
	}
}

func TestMailbox_ReceiveUnknownAgent(t *testing.T) {
	mb, _ := newTestMailbox(t)

	_, err := mb.Receive(context.Background(), "ghost")
	if cerrors.Code(err) != cerrors.ErrCodeUnknownAgent {
		t.Errorf("got %v, want UNKNOWN_AGENT", err)
	}
}

func TestMailbox_CloseWakesReaders(t *testing.T) {
	mb, _ := newTestMailbox(t, "a1")

	errc := make(chan error, 1)
	go func() {
		_, err := mb.Receive(context.Background(), "a1")
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	mb.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the reader")
	}
	if _, err := mb.Send(Message{Receiver: "a1"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close: %v", err)
	}
}

func TestMailbox_TwoReadersNotStranded(t *testing.T) {
	mb, _ := newTestMailbox(t, "a1")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := mb.Receive(ctx, "a1"); err != nil {
				t.Errorf("Receive error: %v", err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	mb.Send(Message{Receiver: "a1", Type: TypeNotice})
	mb.Send(Message{Receiver: "a1", Type: TypeNotice})
	wg.Wait()
}

// --- Broadcast ---

func TestMailbox_BroadcastPartialFailure(t *testing.T) {
	mb, _ := newTestMailbox(t, "A", "C")

	mb.Send(Message{Sender: "A", Receiver: "C", Type: TypeNotice, Payload: "before"})

	deliveries := mb.Broadcast("A", TypeNotice, "hello", []string{"A", "B", "C"})
	if len(deliveries) != 3 {
		t.Fatalf("got %d deliveries, want 3", len(deliveries))
	}

	ok := 0
	ids := make(map[string]bool)
	for _, d := range deliveries {
		switch d.Recipient {
		case "B":
			if !errors.Is(d.Err, ErrUnknownRecipient) {
				t.Errorf("B: got %v, want ErrUnknownRecipient", d.Err)
			}
		default:
			if !d.OK() {
				t.Errorf("%s: unexpected error %v", d.Recipient, d.Err)
			}
			ok++
			ids[d.MessageID] = true
		}
	}
	if ok != 2 || len(ids) != 2 {
		t.Errorf("successful deliveries = %d with %d distinct ids, want 2 and 2", ok, len(ids))
	}

	// A got exactly the broadcast; C got its earlier message first
	if n := mb.Pending("A"); n != 1 {
		t.Errorf("A pending = %d, want 1", n)
	}
	first, _, _ := mb.TryReceive("C")
	second, _, _ := mb.TryReceive("C")
	if first.Payload != "before" || second.Payload != "hello" {
		t.Errorf("C order = %v, %v", first.Payload, second.Payload)
	}
}

func TestMailbox_BroadcastSentinel(t *testing.T) {
	mb, _ := newTestMailbox(t, "a1", "a2", "a3")

	if _, err := mb.Send(Message{Sender: "a1", Receiver: Broadcast, Type: TypeShutdown}); err != nil {
		t.Fatalf("Send broadcast error: %v", err)
	}

	if mb.Pending("a1") != 0 {
		t.Error("sender should not receive its own broadcast")
	}
	for _, id := range []string{"a2", "a3"} {
		msg, ok, _ := mb.TryReceive(id)
		if !ok || msg.Type != TypeShutdown || msg.Receiver != id {
			t.Errorf("%s got %+v, %v", id, msg, ok)
		}
	}
}

// --- Drop / Mirror ---

func TestMailbox_Drop(t *testing.T) {
	mb, _ := newTestMailbox(t, "a1")
	for i := 0; i < 3; i++ {
		mb.Send(Message{Receiver: "a1", Type: TypeNotice})
	}
	if n := mb.Drop("a1"); n != 3 {
		t.Errorf("Drop = %d, want 3", n)
	}
	if mb.Pending("a1") != 0 {
		t.Error("mailbox should be empty after Drop")
	}
	if n := mb.Drop("a1"); n != 0 {
		t.Errorf("second Drop = %d, want 0", n)
	}
}

func TestMailbox_DropWakesReader(t *testing.T) {
	mb, reg := newTestMailbox(t, "a1", "a2")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := mb.Receive(ctx, "a2")
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	reg.Unregister("a2")
	mb.Drop("a2")

	select {
	case err := <-errc:
		if cerrors.Code(err) != cerrors.ErrCodeUnknownAgent {
			t.Errorf("got %v, want UNKNOWN_AGENT", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Drop did not wake the reader")
	}

	// The agent comes back under the same ID and a fresh reader gets new mail
	if err := reg.Register(registry.Registration{ID: "a2"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if _, err := mb.Send(Message{Sender: "a1", Receiver: "a2", Type: TypeNotice, Payload: "again"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	msg, err := mb.Receive(ctx, "a2")
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if msg.Payload != "again" {
		t.Errorf("payload = %v", msg.Payload)
	}
}

func TestMailbox_ReRegisterStartsEmpty(t *testing.T) {
	mb, reg := newTestMailbox(t, "a1", "a2")

	for i := 0; i < 2; i++ {
		mb.Send(Message{Sender: "a1", Receiver: "a2", Type: TypeNotice})
	}
	reg.Unregister("a2")
	if n := mb.Drop("a2"); n != 2 {
		t.Errorf("Drop = %d, want 2", n)
	}

	// Sends between unregister and re-register are rejected, not parked
	if _, err := mb.Send(Message{Sender: "a1", Receiver: "a2", Type: TypeNotice}); !errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("Send to dropped agent: %v, want ErrUnknownRecipient", err)
	}

	reg.Register(registry.Registration{ID: "a2"})
	if n := mb.Pending("a2"); n != 0 {
		t.Errorf("Pending after re-register = %d, want 0", n)
	}
	if _, ok, err := mb.TryReceive("a2"); ok || err != nil {
		t.Errorf("TryReceive = %v, %v, want empty", ok, err)
	}
}

func TestMailbox_SendRacingDrop(t *testing.T) {
	mb, reg := newTestMailbox(t, "a1", "a2")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			mb.Send(Message{Sender: "a1", Receiver: "a2", Type: TypeNotice})
		}
	}()
	time.Sleep(time.Millisecond)
	reg.Unregister("a2")
	mb.Drop("a2")
	wg.Wait()

	// Every send either landed before the drop or was rejected
	if n := mb.Pending("a2"); n != 0 {
		t.Errorf("Pending = %d after drop, want 0", n)
	}
}

func TestMailbox_MirrorsToBus(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	defer reg.Close()
	reg.Register(registry.Registration{ID: "a1"})

	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	sub, _ := b.Subscribe(bus.MailboxSubject("*"))

	mb := New(reg, WithBus(b))
	defer mb.Close()

	sent, _ := mb.Send(Message{Sender: "x", Receiver: "a1", Type: TypeNotice, Payload: "p"})

	select {
	case raw := <-sub.Messages():
		var got Message
		if err := json.Unmarshal(raw.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.ID != sent.ID || raw.Subject != fmt.Sprintf("coord.mailbox.%s", "a1") {
			t.Errorf("mirrored %+v on %s", got, raw.Subject)
		}
	case <-time.After(time.Second):
		t.Fatal("no mirrored message")
	}
}
