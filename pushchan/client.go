// Package pushchan maintains the long-lived connection to the backend
// hub. The wire format is the JSON hub protocol: UTF-8 JSON records
// terminated by a 0x1e separator, opened by a handshake, with typed
// frames for invocations (1), pings (6) and close (7).
//
// The client registers the device after connecting, decodes incoming
// deliver-OTP commands, and fans plain-text status lines out to
// subscribers. There is no automatic reconnect: a closed connection stays
// down until Start is called again.
package pushchan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/techtorio/smsrelay/activitylog"
	"github.com/techtorio/smsrelay/notify"
	"github.com/techtorio/smsrelay/otp"
	"github.com/techtorio/smsrelay/pkg/safe"
	"github.com/techtorio/smsrelay/pkg/serial"
	"github.com/techtorio/smsrelay/pkg/xmap"
	"github.com/techtorio/smsrelay/sms"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	recordSeparator = 0x1e

	frameInvocation = 1
	framePing       = 6
	frameClose      = 7

	registerTarget = "RegisterDevice"
	otpTarget      = "ReceiveOtp"

	dialTimeout = 10 * time.Second
)

// Settings is a connection-time configuration snapshot.
type Settings struct {
	// HubURL is the resolved hub endpoint; empty when unconfigured.
	HubURL string
	// DeviceID is the stable device identifier sent on registration.
	DeviceID string
	// DevicePhone is the number registered with the backend; may be "".
	DevicePhone string
	// PreferredSimSlot hints the transmission channel for OTP sends.
	PreferredSimSlot *int
}

type Options struct {
	Settings func() Settings
	Sender   sms.Sender
	// Exec serializes OTP sends and their user-facing side effects.
	Exec     *serial.Executor
	Notifier notify.Notifier
	Log      activitylog.Sink
}

// Client is an explicitly owned session object: construct one in the
// process entrypoint, pass it by reference, Start/Stop it there.
type Client struct {
	opts Options

	mu      sync.Mutex
	started bool
	conn    *websocket.Conn
	writeMu sync.Mutex

	state atomic.Int32

	subMu   sync.RWMutex
	subs    map[int]func(string)
	nextSub int
}

func New(opts Options) *Client {
	return &Client{
		opts: opts,
		subs: make(map[int]func(string)),
	}
}

func (c *Client) State() State {
	return State(c.state.Load())
}

// Subscribe registers fn for plain-text status lines and returns its
// cancel func. A panicking subscriber is isolated from the others and
// from the connection.
func (c *Client) Subscribe(fn func(line string)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Client) publish(line string) {
	c.subMu.RLock()
	fns := xmap.Values(c.subs)
	c.subMu.RUnlock()

	for _, fn := range fns {
		safe.Call(func() { fn(line) })
	}
}

// Start opens the hub connection asynchronously. No-op when already
// started; a missing hub URL logs a warning and leaves the client
// stopped.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		slog.Info("push channel already started, skipping")
		return
	}

	st := c.opts.Settings()
	if st.HubURL == "" {
		c.mu.Unlock()
		slog.Warn("no hub URL configured, skipping push channel connect")
		c.publish("WARN: No hub URL configured; skipping connect.")
		return
	}

	c.started = true
	c.state.Store(int32(Connecting))
	c.mu.Unlock()

	c.publish("Starting push channel connection to: " + st.HubURL)
	safe.Go(func() { c.connect(st) })
}

// Stop tears down the transport. No-op when not started; the started
// flag is always cleared, even if closing the connection fails.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			slog.Warn("error closing push channel connection", "error", err)
		}
		c.conn = nil
	}
	c.started = false
	c.state.Store(int32(Disconnected))
}

func (c *Client) connect(st Settings) {
	c.publish("Attempting push channel connection...")

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(wsURL(st.HubURL), nil)
	if err != nil {
		c.connectFailed(fmt.Errorf("dial: %w", err))
		return
	}

	c.mu.Lock()
	if !c.started {
		// raced with Stop
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.handshake(conn); err != nil {
		c.connectFailed(fmt.Errorf("handshake: %w", err))
		return
	}

	c.state.Store(int32(Connected))
	c.publish("Push channel connected.")

	deviceID := st.DeviceID
	c.publish(fmt.Sprintf("Registering device - ID: %s, Phone: %s", deviceID, st.DevicePhone))
	if err := c.writeRecord(conn, invocation{
		Type:      frameInvocation,
		Target:    registerTarget,
		Arguments: []any{deviceID, st.DevicePhone},
	}); err != nil {
		c.connectFailed(fmt.Errorf("register device: %w", err))
		return
	}
	c.publish("Push channel connected and RegisterDevice invoked for device: " + deviceID)
	c.notifyUser("Push channel", "Connected")

	c.readLoop(conn, st)
}

func (c *Client) connectFailed(err error) {
	slog.Error("push channel connect failed", "error", err)
	c.publish("Push channel start failed: " + err.Error())
	c.notifyUser("Push channel", "Connection failed: "+err.Error())

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.started = false
	c.state.Store(int32(Disconnected))
	c.mu.Unlock()
}

// handshake negotiates the JSON hub protocol and waits for the server's
// (empty) response record.
func (c *Client) handshake(conn *websocket.Conn) error {
	if err := c.writeRecord(conn, map[string]any{"protocol": "json", "version": 1}); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(dialTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var resp struct {
		Error string `json:"error"`
	}
	for record := range records(data) {
		if err := json.Unmarshal(record, &resp); err != nil {
			return fmt.Errorf("bad handshake response: %w", err)
		}
		if resp.Error != "" {
			return fmt.Errorf("handshake rejected: %s", resp.Error)
		}
		return nil
	}
	return fmt.Errorf("empty handshake response")
}

func (c *Client) readLoop(conn *websocket.Conn, st Settings) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onClosed(conn, err)
			return
		}
		for record := range records(data) {
			c.handleRecord(conn, record, st)
		}
	}
}

type invocation struct {
	Type      int    `json:"type"`
	Target    string `json:"target,omitempty"`
	Arguments []any  `json:"arguments,omitempty"`
}

func (c *Client) handleRecord(conn *websocket.Conn, record []byte, st Settings) {
	var frame struct {
		Type      int               `json:"type"`
		Target    string            `json:"target"`
		Arguments []json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(record, &frame); err != nil {
		c.publish("WARN: unreadable hub record: " + err.Error())
		return
	}

	switch frame.Type {
	case framePing:
		if err := c.writeRecord(conn, map[string]int{"type": framePing}); err != nil {
			slog.Debug("push channel ping reply failed", "error", err)
		}
	case frameClose:
		c.publish("Push channel server requested close.")
		conn.Close()
	case frameInvocation:
		if frame.Target != otpTarget {
			slog.Debug("ignoring hub invocation", "target", frame.Target)
			return
		}
		c.handleOtp(frame.Arguments, st)
	}
}

func (c *Client) handleOtp(args []json.RawMessage, st Settings) {
	c.publish("ReceiveOtp received")

	var payload any
	if len(args) > 0 {
		if err := json.Unmarshal(args[0], &payload); err != nil {
			payload = string(args[0])
		}
	}

	req, err := otp.Decode(payload)
	if err != nil {
		slog.Warn("malformed otp payload", "error", err)
		c.publish("WARN: Received malformed ReceiveOtp payload")
		c.notifyUser("OTP delivery", "Invalid OTP payload")
		c.addLog(activitylog.KindOtpError, "Malformed OTP payload", err.Error())
		return
	}

	message := otp.Render(req.Template, req.Otp)
	c.publish("Processing OTP for " + req.Phone)

	submitted := c.opts.Exec.Submit(func() {
		ok := c.opts.Sender.Send(context.Background(), req.Phone, message, st.PreferredSimSlot)
		if ok {
			result := "OTP sent from device to " + req.Phone
			c.publish(result)
			c.notifyUser("OTP delivery", result)
			c.addLog(activitylog.KindOtpSent, result, "Message: "+message)
		} else {
			result := "Failed to send OTP to " + req.Phone
			c.publish(result)
			c.notifyUser("OTP delivery", result)
			c.addLog(activitylog.KindOtpError, result, "Message: "+message)
		}
	})
	if !submitted {
		c.publish("WARN: executor stopped, OTP for " + req.Phone + " dropped")
	}
}

func (c *Client) onClosed(conn *websocket.Conn, err error) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
		c.started = false
		c.state.Store(int32(Disconnected))
	}
	c.mu.Unlock()

	if !current {
		// Stop already detached this connection
		return
	}

	msg := "Push channel connection closed"
	if err != nil {
		msg += ": " + err.Error()
	}
	slog.Info("push channel closed", "error", err)
	c.publish(msg)
	c.notifyUser("Push channel", "Disconnected")
}

func (c *Client) writeRecord(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, recordSeparator)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) notifyUser(title, message string) {
	if c.opts.Notifier == nil {
		return
	}
	if err := c.opts.Notifier.Notify(title, message); err != nil {
		slog.Warn("push channel notification failed", "error", err)
	}
}

func (c *Client) addLog(kind, message, details string) {
	if c.opts.Log == nil {
		return
	}
	if err := c.opts.Log.Add(kind, message, details); err != nil {
		slog.Warn("failed to write activity log", "kind", kind, "error", err)
	}
}

// records yields the non-empty JSON records of a hub message.
func records(data []byte) func(yield func([]byte) bool) {
	return func(yield func([]byte) bool) {
		for _, record := range bytes.Split(data, []byte{recordSeparator}) {
			if len(record) == 0 {
				continue
			}
			if !yield(record) {
				return
			}
		}
	}
}

// wsURL converts an http(s) hub URL to its websocket form.
func wsURL(hubURL string) string {
	switch {
	case strings.HasPrefix(hubURL, "https://"):
		return "wss://" + strings.TrimPrefix(hubURL, "https://")
	case strings.HasPrefix(hubURL, "http://"):
		return "ws://" + strings.TrimPrefix(hubURL, "http://")
	default:
		return hubURL
	}
}
