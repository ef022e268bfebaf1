package pushchan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/techtorio/smsrelay/pkg/serial"
	"github.com/techtorio/smsrelay/sms"
)

// testHub is a minimal in-process hub: it accepts the handshake, records
// invocations from the client and can push invocations back.
type testHub struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	received []invocation

	connected chan struct{}
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()

	h := &testHub{t: t, connected: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}

		// handshake request, answered with an empty record
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, append([]byte("{}"), recordSeparator)); err != nil {
			return
		}

		h.mu.Lock()
		h.conn = conn
		h.mu.Unlock()
		close(h.connected)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			for _, record := range bytes.Split(data, []byte{recordSeparator}) {
				if len(record) == 0 {
					continue
				}
				var inv invocation
				if err := json.Unmarshal(record, &inv); err != nil {
					continue
				}
				h.mu.Lock()
				h.received = append(h.received, inv)
				h.mu.Unlock()
			}
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *testHub) url() string {
	return h.srv.URL
}

func (h *testHub) waitConnected() {
	h.t.Helper()
	select {
	case <-h.connected:
	case <-time.After(2 * time.Second):
		h.t.Fatal("client did not connect to test hub in time")
	}
}

func (h *testHub) push(record string) {
	h.t.Helper()
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		h.t.Fatal("no client connected")
	}
	if err := conn.WriteMessage(websocket.TextMessage, append([]byte(record), recordSeparator)); err != nil {
		h.t.Fatalf("push: %v", err)
	}
}

func (h *testHub) invocations() []invocation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]invocation(nil), h.received...)
}

type statusLines struct {
	mu    sync.Mutex
	lines []string
}

func (s *statusLines) add(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *statusLines) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *statusLines) contains(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

type sentMessage struct {
	to, body string
}

func newTestClient(t *testing.T, hubURL string) (*Client, *statusLines, chan sentMessage) {
	t.Helper()

	sent := make(chan sentMessage, 8)
	exec := serial.New()
	t.Cleanup(exec.Stop)

	c := New(Options{
		Settings: func() Settings {
			return Settings{
				HubURL:      hubURL,
				DeviceID:    "device-1234",
				DevicePhone: "+254712345678",
			}
		},
		Sender: sms.Func(func(ctx context.Context, to, body string, slot *int) bool {
			sent <- sentMessage{to: to, body: body}
			return true
		}),
		Exec: exec,
	})
	t.Cleanup(c.Stop)

	status := &statusLines{}
	c.Subscribe(status.add)
	return c, status, sent
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartRegistersDevice(t *testing.T) {
	hub := newTestHub(t)
	c, status, _ := newTestClient(t, hub.url())

	c.Start()
	hub.waitConnected()

	waitFor(t, "RegisterDevice invocation", func() bool {
		return len(hub.invocations()) > 0
	})

	invs := hub.invocations()
	if invs[0].Target != registerTarget {
		t.Fatalf("first invocation target = %q", invs[0].Target)
	}
	if len(invs[0].Arguments) != 2 {
		t.Fatalf("register arguments = %v", invs[0].Arguments)
	}
	if invs[0].Arguments[0] != "device-1234" || invs[0].Arguments[1] != "+254712345678" {
		t.Errorf("register arguments = %v", invs[0].Arguments)
	}

	if c.State() != Connected {
		t.Errorf("state = %v, want connected", c.State())
	}
	if !status.contains("RegisterDevice invoked") {
		t.Errorf("missing registration status line: %v", status.snapshot())
	}
}

func TestStartWithoutHubURL(t *testing.T) {
	c, status, _ := newTestClient(t, "")

	c.Start()

	if c.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", c.State())
	}
	if !status.contains("No hub URL configured") {
		t.Errorf("missing warning status line: %v", status.snapshot())
	}
	// Start again is still a no-op without a URL
	c.Start()
}

func TestReceiveOtpObjectPayload(t *testing.T) {
	hub := newTestHub(t)
	c, _, sent := newTestClient(t, hub.url())

	c.Start()
	hub.waitConnected()

	hub.push(`{"type":1,"target":"ReceiveOtp","arguments":[{"phone":"+254700000001","otp":"9142"}]}`)

	select {
	case msg := <-sent:
		if msg.to != "+254700000001" {
			t.Errorf("sent to %q", msg.to)
		}
		if msg.body != "Your OTP is 9142" {
			t.Errorf("sent body %q, want default template render", msg.body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("otp was not sent")
	}
}

func TestReceiveOtpStringPayloadWithTemplate(t *testing.T) {
	hub := newTestHub(t)
	c, _, sent := newTestClient(t, hub.url())

	c.Start()
	hub.waitConnected()

	payload := `{\"phone\":\"+254700000001\",\"otp\":\"4321\",\"template\":\"Code: {varOTP}\"}`
	hub.push(fmt.Sprintf(`{"type":1,"target":"ReceiveOtp","arguments":["%s"]}`, payload))

	select {
	case msg := <-sent:
		if msg.body != "Code: 4321" {
			t.Errorf("sent body %q", msg.body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("otp was not sent")
	}
}

func TestReceiveOtpMalformedPayload(t *testing.T) {
	hub := newTestHub(t)
	c, status, sent := newTestClient(t, hub.url())

	c.Start()
	hub.waitConnected()

	hub.push(`{"type":1,"target":"ReceiveOtp","arguments":["not json at all"]}`)

	waitFor(t, "malformed payload status line", func() bool {
		return status.contains("malformed ReceiveOtp payload")
	})
	select {
	case msg := <-sent:
		t.Fatalf("nothing should be sent for a malformed payload, got %+v", msg)
	default:
	}

	// the connection survives the bad payload
	hub.push(`{"type":1,"target":"ReceiveOtp","arguments":[{"phone":"+254700000001","otp":"1111"}]}`)
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("client stopped handling invocations after a malformed payload")
	}
}

func TestSubscriberIsolation(t *testing.T) {
	hub := newTestHub(t)
	c, status, _ := newTestClient(t, hub.url())

	// a panicking subscriber must not affect others or the connection
	c.Subscribe(func(line string) { panic("bad subscriber") })

	c.Start()
	hub.waitConnected()

	waitFor(t, "status lines despite panicking subscriber", func() bool {
		return status.contains("Push channel connected")
	})
	if c.State() != Connected {
		t.Errorf("state = %v, want connected", c.State())
	}
}

func TestStopClearsStarted(t *testing.T) {
	hub := newTestHub(t)
	c, _, _ := newTestClient(t, hub.url())

	c.Start()
	hub.waitConnected()
	waitFor(t, "connected state", func() bool { return c.State() == Connected })

	c.Stop()
	if c.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", c.State())
	}

	// Stop again is a no-op
	c.Stop()
}

func TestServerCloseTransitionsToDisconnected(t *testing.T) {
	hub := newTestHub(t)
	c, status, _ := newTestClient(t, hub.url())

	c.Start()
	hub.waitConnected()
	waitFor(t, "connected state", func() bool { return c.State() == Connected })

	hub.mu.Lock()
	hub.conn.Close()
	hub.mu.Unlock()

	waitFor(t, "disconnected state", func() bool { return c.State() == Disconnected })
	waitFor(t, "close status line", func() bool {
		return status.contains("connection closed")
	})
}

func TestPingAnswered(t *testing.T) {
	hub := newTestHub(t)
	c, _, _ := newTestClient(t, hub.url())

	c.Start()
	hub.waitConnected()

	hub.push(`{"type":6}`)

	waitFor(t, "ping reply", func() bool {
		for _, inv := range hub.invocations() {
			if inv.Type == framePing {
				return true
			}
		}
		return false
	})
}
