package atemws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/stagecast/switchpilot/internal/device"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGateway launches a test WebSocket server standing in for the switcher
// gateway. The handler receives the accepted connection.
func startGateway(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func dialTest(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(srv), opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestClient_CommandsEncodeOnTheWire(t *testing.T) {
	t.Parallel()

	frames := make(chan map[string]any, 16)
	srv := startGateway(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			var msg map[string]any
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}
			if json.Unmarshal(data, &msg) == nil {
				frames <- msg
			}
		}
	})

	c := dialTest(t, srv)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want map[string]any
	}{
		{
			name: "setProgram",
			call: func() error { return c.SetProgram(ctx, 2) },
			want: map[string]any{"type": "setProgram", "source": float64(2)},
		},
		{
			name: "setPreview",
			call: func() error { return c.SetPreview(ctx, 5) },
			want: map[string]any{"type": "setPreview", "source": float64(5)},
		},
		{
			name: "performAuto",
			call: func() error { return c.PerformAuto(ctx) },
			want: map[string]any{"type": "performAuto"},
		},
		{
			name: "setBoxSource",
			call: func() error { return c.SetBoxSource(ctx, 1, 3) },
			want: map[string]any{"type": "setBoxSource", "box": float64(1), "source": float64(3)},
		},
		{
			name: "setKeyOnAir",
			call: func() error { return c.SetKeyOnAir(ctx, 0, true) },
			want: map[string]any{"type": "setKeyOnAir", "keyer": float64(0), "onAir": true},
		},
		{
			name: "setRecording",
			call: func() error { return c.SetRecording(ctx, true) },
			want: map[string]any{"type": "setRecording", "recording": true},
		},
	}

	for _, tt := range tests {
		if err := tt.call(); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		select {
		case got := <-frames:
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s: frame[%q] = %v, want %v", tt.name, k, got[k], v)
				}
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("%s: no frame received", tt.name)
		}
	}
}

func TestClient_AudioLevelsFanOut(t *testing.T) {
	t.Parallel()

	srv := startGateway(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{
			"type": "audioLevels",
			"levels": []map[string]any{
				{"channel": 1, "level": -1200},
				{"channel": 2, "level": -300},
			},
		})
		// Hold the connection open until the client hangs up.
		ctx := context.Background()
		_, _, _ = conn.Read(ctx)
	})

	c := dialTest(t, srv)

	samples := make(chan device.LevelSample, 4)
	unsub := c.SubscribeLevels(func(s device.LevelSample) { samples <- s })
	defer unsub()

	var got []device.LevelSample
	for len(got) < 2 {
		select {
		case s := <-samples:
			got = append(got, s)
		case <-time.After(3 * time.Second):
			t.Fatalf("received %d samples, want 2", len(got))
		}
	}
	if got[0].Channel != 1 || got[0].Level != -1200 {
		t.Errorf("sample[0] = %+v, want channel 1 level -1200", got[0])
	}
	if got[1].Channel != 2 || got[1].Level != -300 {
		t.Errorf("sample[1] = %+v, want channel 2 level -300", got[1])
	}

	if !c.LevelFeedActive() {
		t.Error("LevelFeedActive should be true right after level events")
	}
}

func TestClient_LevelFeedGoesStale(t *testing.T) {
	t.Parallel()

	srv := startGateway(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{
			"type":   "audioLevels",
			"levels": []map[string]any{{"channel": 1, "level": -100}},
		})
		ctx := context.Background()
		_, _, _ = conn.Read(ctx)
	})

	c := dialTest(t, srv, WithLevelFeedWindow(50*time.Millisecond))

	deadline := time.Now().Add(3 * time.Second)
	for !c.LevelFeedActive() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !c.LevelFeedActive() {
		t.Fatal("feed never became active")
	}

	time.Sleep(100 * time.Millisecond)
	if c.LevelFeedActive() {
		t.Error("feed should be stale after the window lapses")
	}
}

func TestClient_InputsRoundTrip(t *testing.T) {
	t.Parallel()

	srv := startGateway(t, func(conn *websocket.Conn, _ *http.Request) {
		var req struct {
			Type string `json:"type"`
			ID   int64  `json:"id"`
		}
		readJSON(t, conn, &req)
		if req.Type != "listInputs" {
			t.Errorf("request type = %q, want listInputs", req.Type)
		}
		writeJSON(t, conn, map[string]any{
			"type": "inputList",
			"id":   req.ID,
			"inputs": []map[string]any{
				{"source": 1, "name": "CAM 1"},
				{"source": 2, "name": "CAM 2"},
			},
		})
		ctx := context.Background()
		_, _, _ = conn.Read(ctx)
	})

	c := dialTest(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	inputs, err := c.Inputs(ctx)
	if err != nil {
		t.Fatalf("Inputs: %v", err)
	}
	if len(inputs) != 2 || inputs[0].Name != "CAM 1" || inputs[1].Source != 2 {
		t.Errorf("Inputs = %+v, want CAM 1 and CAM 2", inputs)
	}
}

func TestClient_StatusEventNotifiesSubscribers(t *testing.T) {
	t.Parallel()

	srv := startGateway(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{
			"type":      "status",
			"connected": true,
			"model":     "ATEM Mini Pro",
		})
		ctx := context.Background()
		_, _, _ = conn.Read(ctx)
	})

	c := dialTest(t, srv)

	statuses := make(chan device.Status, 2)
	unsub := c.SubscribeStatus(func(s device.Status) { statuses <- s })
	defer unsub()

	select {
	case s := <-statuses:
		if !s.Connected || s.Model != "ATEM Mini Pro" {
			t.Errorf("status = %+v, want connected ATEM Mini Pro", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no status event received")
	}
}

func TestClient_ServerHangupMarksDisconnected(t *testing.T) {
	t.Parallel()

	srv := startGateway(t, func(conn *websocket.Conn, _ *http.Request) {
		// Close immediately.
	})

	c := dialTest(t, srv)

	statuses := make(chan device.Status, 2)
	unsub := c.SubscribeStatus(func(s device.Status) { statuses <- s })
	defer unsub()

	select {
	case s := <-statuses:
		if s.Connected {
			t.Errorf("status = %+v, want disconnected", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no disconnect notification")
	}
	if c.Status().Connected {
		t.Error("Status should report disconnected after server hangup")
	}
}

func TestClient_CommandsFailAfterClose(t *testing.T) {
	t.Parallel()

	srv := startGateway(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx := context.Background()
		_, _, _ = conn.Read(ctx)
	})

	c := dialTest(t, srv)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := c.SetProgram(context.Background(), 1); !errors.Is(err, device.ErrNotConnected) {
		t.Errorf("SetProgram after Close = %v, want ErrNotConnected", err)
	}
}
