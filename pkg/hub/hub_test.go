package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
)

// fakeConn blocks reads until closed and records writes.
type fakeConn struct {
	mu     sync.Mutex
	writes []Message
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (f *fakeConn) SetReadLimit(int64) {}
func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch messageType {
	case websocket.TextMessage:
		f.writes = append(f.writes, Message{Type: JSONMessage, Data: data})
	case websocket.BinaryMessage:
		f.writes = append(f.writes, Message{Type: BinaryMessage, Data: data})
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) Writes() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.writes...)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startHub(t *testing.T, opts ...Option) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h, cancel
}

func connect(t *testing.T, h *Hub) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	client := NewClient(h, conn)
	if client == nil {
		t.Fatal("NewClient returned nil on a running hub")
	}
	go client.Run()
	return conn
}

func TestBroadcast(t *testing.T) {
	h, _ := startHub(t)
	a, b := connect(t, h), connect(t, h)
	eventually(t, func() bool { return h.ClientCount() == 2 })

	if err := h.BroadcastJSON(map[string]int{"n": 1}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}
	h.BroadcastBinary([]byte{0xff, 0xd8})

	for _, conn := range []*fakeConn{a, b} {
		eventually(t, func() bool { return len(conn.Writes()) == 2 })
		w := conn.Writes()
		if w[0].Type != JSONMessage || string(w[0].Data) != `{"n":1}` {
			t.Errorf("first write = %+v", w[0])
		}
		if w[1].Type != BinaryMessage || len(w[1].Data) != 2 {
			t.Errorf("second write = %+v", w[1])
		}
	}
}

func TestUnregisterOnDisconnect(t *testing.T) {
	h, _ := startHub(t)
	conn := connect(t, h)
	eventually(t, func() bool { return h.ClientCount() == 1 })

	conn.Close()
	eventually(t, func() bool { return h.ClientCount() == 0 })
}

func TestRetainLast(t *testing.T) {
	h, _ := startHub(t, WithRetainLast())
	first := connect(t, h)
	eventually(t, func() bool { return h.ClientCount() == 1 })

	h.BroadcastJSON("old")
	h.BroadcastJSON("new")
	eventually(t, func() bool { return len(first.Writes()) == 2 })

	late := connect(t, h)
	eventually(t, func() bool { return len(late.Writes()) == 1 })
	if got := string(late.Writes()[0].Data); got != `"new"` {
		t.Errorf("replayed %s, want \"new\"", got)
	}
}

func TestStop(t *testing.T) {
	h := New("stop")
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	conn := connect(t, h)
	eventually(t, func() bool { return h.ClientCount() == 1 })

	cancel()
	<-h.Done()

	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("client connection not closed on stop")
	}
	if c := NewClient(h, newFakeConn()); c != nil {
		t.Error("NewClient should return nil after stop")
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after stop", h.ClientCount())
	}
}
