// Package atemws provides a [device.Link] implementation speaking the
// switcher's WebSocket control protocol.
//
// The protocol is JSON over a single WebSocket connection. Commands are text
// frames of the form {"type":"setProgram","source":2}; queries carry an "id"
// field that the gateway echoes in its response; the gateway pushes
// "audioLevels" and "status" events on its own schedule.
package atemws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/stagecast/switchpilot/internal/device"
)

// defaultLevelFeedWindow is how recent the last audio-level event must be for
// the feed to count as active.
const defaultLevelFeedWindow = 2 * time.Second

// outboundBuffer bounds the command queue so a dead connection surfaces as a
// send error instead of unbounded memory growth.
const outboundBuffer = 256

// Compile-time interface assertion.
var _ device.Link = (*Client)(nil)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithLogger sets the client's logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithLevelFeedWindow overrides how recent the last level event must be for
// [Client.LevelFeedActive] to report true.
func WithLevelFeedWindow(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.levelWindow = d
		}
	}
}

// event is the union of all inbound gateway messages.
type event struct {
	Type      string `json:"type"`
	ID        int64  `json:"id,omitempty"`
	Error     string `json:"error,omitempty"`
	Connected *bool  `json:"connected,omitempty"`
	Model     string `json:"model,omitempty"`
	Levels    []struct {
		Channel int `json:"channel"`
		Level   int `json:"level"`
	} `json:"levels,omitempty"`
	Inputs []struct {
		Source int    `json:"source"`
		Name   string `json:"name"`
	} `json:"inputs,omitempty"`
}

// Client is a live control connection to one switcher gateway.
// All methods are safe for concurrent use.
type Client struct {
	logger      *slog.Logger
	levelWindow time.Duration

	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu         sync.Mutex
	status     device.Status
	lastLevel  time.Time
	levelSubs  map[int]device.LevelHandler
	statusSubs map[int]device.StatusHandler
	nextSubID  int
	pending    map[int64]chan event
	nextReqID  int64
}

// Dial connects to the switcher gateway at url and starts the client's read
// and write loops. Close must be called when the client is no longer needed.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		logger:      slog.Default(),
		levelWindow: defaultLevelFeedWindow,
		out:         make(chan []byte, outboundBuffer),
		done:        make(chan struct{}),
		levelSubs:   make(map[int]device.LevelHandler),
		statusSubs:  make(map[int]device.StatusHandler),
		pending:     make(map[int64]chan event),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("atemws: dial %q: %w", url, err)
	}
	c.conn = conn
	c.status = device.Status{Connected: true}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	return c, nil
}

// ── Outbound path ─────────────────────────────────────────────────────────────

// send marshals a command of the given type plus fields and queues it for
// delivery. It fails fast when the connection is gone.
func (c *Client) send(_ context.Context, typ string, fields map[string]any) error {
	msg := map[string]any{"type": typ}
	for k, v := range fields {
		msg[k] = v
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("atemws: marshal %s: %w", typ, err)
	}

	select {
	case <-c.done:
		return device.ErrNotConnected
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return device.ErrNotConnected
	}
}

// SetProgram implements [device.Link].
func (c *Client) SetProgram(ctx context.Context, source int) error {
	return c.send(ctx, "setProgram", map[string]any{"source": source})
}

// SetPreview implements [device.Link].
func (c *Client) SetPreview(ctx context.Context, source int) error {
	return c.send(ctx, "setPreview", map[string]any{"source": source})
}

// PerformAuto implements [device.Link].
func (c *Client) PerformAuto(ctx context.Context) error {
	return c.send(ctx, "performAuto", nil)
}

// Cut implements [device.Link].
func (c *Client) Cut(ctx context.Context) error {
	return c.send(ctx, "cut", nil)
}

// SetTransitionRate implements [device.Link].
func (c *Client) SetTransitionRate(ctx context.Context, frames int) error {
	return c.send(ctx, "setTransitionRate", map[string]any{"frames": frames})
}

// SetBoxSource implements [device.Link].
func (c *Client) SetBoxSource(ctx context.Context, box, source int) error {
	return c.send(ctx, "setBoxSource", map[string]any{"box": box, "source": source})
}

// SetBoxEnabled implements [device.Link].
func (c *Client) SetBoxEnabled(ctx context.Context, box int, enabled bool) error {
	return c.send(ctx, "setBoxEnabled", map[string]any{"box": box, "enabled": enabled})
}

// SetKeyOnAir implements [device.Link].
func (c *Client) SetKeyOnAir(ctx context.Context, keyer int, onAir bool) error {
	return c.send(ctx, "setKeyOnAir", map[string]any{"keyer": keyer, "onAir": onAir})
}

// SetAuxSource implements [device.Link].
func (c *Client) SetAuxSource(ctx context.Context, aux, source int) error {
	return c.send(ctx, "setAuxSource", map[string]any{"aux": aux, "source": source})
}

// SetRecording implements [device.Link].
func (c *Client) SetRecording(ctx context.Context, recording bool) error {
	return c.send(ctx, "setRecording", map[string]any{"recording": recording})
}

// SetStreaming implements [device.Link].
func (c *Client) SetStreaming(ctx context.Context, streaming bool) error {
	return c.send(ctx, "setStreaming", map[string]any{"streaming": streaming})
}

// Inputs implements [device.Link]. It performs a request/response round-trip
// with the gateway and honours ctx cancellation.
func (c *Client) Inputs(ctx context.Context) ([]device.Input, error) {
	c.mu.Lock()
	c.nextReqID++
	id := c.nextReqID
	ch := make(chan event, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(ctx, "listInputs", map[string]any{"id": id}); err != nil {
		return nil, err
	}

	select {
	case ev := <-ch:
		if ev.Error != "" {
			return nil, fmt.Errorf("atemws: listInputs: %s", ev.Error)
		}
		inputs := make([]device.Input, len(ev.Inputs))
		for i, in := range ev.Inputs {
			inputs[i] = device.Input{Source: in.Source, Name: in.Name}
		}
		return inputs, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("atemws: listInputs: %w", ctx.Err())
	case <-c.done:
		return nil, device.ErrNotConnected
	}
}

// ── State and subscriptions ───────────────────────────────────────────────────

// Status implements [device.Link].
func (c *Client) Status() device.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LevelFeedActive implements [device.Link].
func (c *Client) LevelFeedActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastLevel.IsZero() && time.Since(c.lastLevel) <= c.levelWindow
}

// SubscribeLevels implements [device.Link].
func (c *Client) SubscribeLevels(h device.LevelHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.levelSubs[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.levelSubs, id)
	}
}

// SubscribeStatus implements [device.Link].
func (c *Client) SubscribeStatus(h device.StatusHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.statusSubs[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.statusSubs, id)
	}
}

// ── Loops ─────────────────────────────────────────────────────────────────────

// readLoop decodes inbound frames until the connection dies or the client is
// closed. A read error marks the link disconnected.
func (c *Client) readLoop() {
	defer c.wg.Done()

	ctx := context.Background()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("switcher connection lost", "err", err)
			}
			c.markDisconnected()
			return
		}

		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("undecodable gateway frame", "err", err)
			continue
		}
		c.handleEvent(ev)
	}
}

// handleEvent routes one inbound event to level subscribers, status
// subscribers, or a pending request.
func (c *Client) handleEvent(ev event) {
	switch ev.Type {
	case "audioLevels":
		now := time.Now()
		c.mu.Lock()
		c.lastLevel = now
		handlers := make([]device.LevelHandler, 0, len(c.levelSubs))
		for _, h := range c.levelSubs {
			handlers = append(handlers, h)
		}
		c.mu.Unlock()
		for _, l := range ev.Levels {
			s := device.LevelSample{Channel: l.Channel, Level: l.Level, Timestamp: now}
			for _, h := range handlers {
				h(s)
			}
		}

	case "status":
		connected := ev.Connected != nil && *ev.Connected
		c.notifyStatus(device.Status{Connected: connected, Model: ev.Model})

	default:
		if ev.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[ev.ID]
			c.mu.Unlock()
			if ok {
				ch <- ev
			}
			return
		}
		c.logger.Debug("unhandled gateway event", "type", ev.Type)
	}
}

// writeLoop drains the outbound queue onto the wire.
func (c *Client) writeLoop() {
	defer c.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				select {
				case <-c.done:
				default:
					c.logger.Warn("switcher write failed", "err", err)
				}
				return
			}
		}
	}
}

// markDisconnected flips the link status and notifies subscribers once.
func (c *Client) markDisconnected() {
	c.mu.Lock()
	already := !c.status.Connected
	model := c.status.Model
	c.mu.Unlock()
	if already {
		return
	}
	c.notifyStatus(device.Status{Connected: false, Model: model})
}

// notifyStatus stores s and fans it out to status subscribers.
func (c *Client) notifyStatus(s device.Status) {
	c.mu.Lock()
	c.status = s
	handlers := make([]device.StatusHandler, 0, len(c.statusSubs))
	for _, h := range c.statusSubs {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}

// Close terminates the connection cleanly. Safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close(websocket.StatusNormalClosure, "shutting down")
		if err != nil && errors.Is(err, context.Canceled) {
			err = nil
		}
		c.wg.Wait()
		c.markDisconnected()
	})
	return err
}
