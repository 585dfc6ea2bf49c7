/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package node implements the client side of the render node protocol:
// JSON commands over a websocket gateway, asynchronous track lifecycle
// events back, and catalog resolution over the node's REST surface.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ErrGatewayClosed indicates the gateway connection is no longer usable.
var ErrGatewayClosed = errors.New("node gateway closed")

// Conn is one logical player connection on the render node. Commands are
// request/acknowledge; completion is signalled asynchronously via Events.
// The play nonce is echoed back on every event for that playback, letting
// callers tell apart endings of distinct playbacks of the same track.
type Conn interface {
	Play(ctx context.Context, track Track, nonce uint64) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	SetVolume(ctx context.Context, volume int) error
	Close(ctx context.Context) error
}

// Client resolves tracks and opens per-session player connections.
type Client interface {
	Connect(ctx context.Context, sessionKey string) (Conn, error)
	Resolve(ctx context.Context, query string) (ResolveResult, error)
	Events() <-chan Event
	Close(ctx context.Context) error
}

// GatewayConfig describes one render node endpoint.
type GatewayConfig struct {
	Name     string `yaml:"name"`
	Addr     string `yaml:"addr"` // host:port
	Password string `yaml:"password"`
	Secure   bool   `yaml:"secure"`
}

// Gateway multiplexes all session player connections over a single
// websocket to the render node.
type Gateway struct {
	cfg        GatewayConfig
	logger     zerolog.Logger
	httpClient *http.Client
	events     chan Event

	writeMu sync.Mutex
	ws      *websocket.Conn

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

type commandFrame struct {
	Op      string `json:"op"`
	Session string `json:"session"`
	TrackID string `json:"track_id,omitempty"`
	Nonce   uint64 `json:"nonce,omitempty"`
	Volume  *int   `json:"volume,omitempty"`
	Paused  *bool  `json:"paused,omitempty"`
}

type eventFrame struct {
	Op string `json:"op"`
	Event
}

// Dial connects to the node gateway and starts the event read loop.
func Dial(ctx context.Context, cfg GatewayConfig, logger zerolog.Logger) (*Gateway, error) {
	scheme := "ws"
	if cfg.Secure {
		scheme = "wss"
	}
	gatewayURL := fmt.Sprintf("%s://%s/v1/gateway", scheme, cfg.Addr)

	headers := http.Header{}
	if cfg.Password != "" {
		headers.Set("Authorization", cfg.Password)
	}

	ws, _, err := websocket.Dial(ctx, gatewayURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("dial node gateway %s: %w", cfg.Addr, err)
	}
	ws.SetReadLimit(1 << 20)

	readCtx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:        cfg,
		logger:     logger.With().Str("component", "node_gateway").Str("node", cfg.Name).Logger(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		events:     make(chan Event, 64),
		ws:         ws,
		cancel:     cancel,
	}

	go g.readLoop(readCtx)

	g.logger.Info().Str("addr", cfg.Addr).Msg("node gateway connected")
	return g, nil
}

// Events returns the inbound node event stream. The channel is closed when
// the gateway shuts down.
func (g *Gateway) Events() <-chan Event {
	return g.events
}

// Connect registers a logical player for the session key on the shared socket.
func (g *Gateway) Connect(ctx context.Context, sessionKey string) (Conn, error) {
	if err := g.send(ctx, commandFrame{Op: "connect", Session: sessionKey}); err != nil {
		return nil, err
	}
	return &playerConn{gateway: g, sessionKey: sessionKey}, nil
}

// Resolve queries the node catalog for tracks matching the query or URL.
func (g *Gateway) Resolve(ctx context.Context, query string) (ResolveResult, error) {
	scheme := "http"
	if g.cfg.Secure {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/v1/loadtracks?q=%s", scheme, g.cfg.Addr, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ResolveResult{}, err
	}
	if g.cfg.Password != "" {
		req.Header.Set("Authorization", g.cfg.Password)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("resolve %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ResolveResult{}, fmt.Errorf("resolve %q: node returned %s", query, resp.Status)
	}

	var payload struct {
		Type     string  `json:"type"` // track, playlist, empty
		Tracks   []Track `json:"tracks"`
		Playlist string  `json:"playlist_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ResolveResult{}, fmt.Errorf("resolve %q: decode response: %w", query, err)
	}

	for i := range payload.Tracks {
		payload.Tracks[i].Duration = time.Duration(payload.Tracks[i].DurationMS) * time.Millisecond
	}

	result := ResolveResult{Tracks: payload.Tracks}
	if payload.Type == "playlist" {
		result.Playlist = payload.Playlist
	}
	return result, nil
}

// Close tears down the socket and stops the read loop.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.cancel()
	return g.ws.Close(websocket.StatusNormalClosure, "shutting down")
}

func (g *Gateway) send(ctx context.Context, frame commandFrame) error {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return ErrGatewayClosed
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if err := wsjson.Write(ctx, g.ws, frame); err != nil {
		return fmt.Errorf("send %s command: %w", frame.Op, err)
	}
	return nil
}

func (g *Gateway) readLoop(ctx context.Context) {
	defer close(g.events)

	for {
		var frame eventFrame
		if err := wsjson.Read(ctx, g.ws, &frame); err != nil {
			if ctx.Err() == nil {
				g.logger.Error().Err(err).Msg("gateway read failed, event stream ending")
			}
			return
		}
		if frame.Op != "event" {
			continue
		}
		select {
		case g.events <- frame.Event:
		default:
			// Slow consumer; the watchdog covers a dropped end event.
			g.logger.Warn().Str("type", string(frame.Type)).Str("session", frame.SessionKey).Msg("event buffer full, dropping node event")
		}
	}
}

// playerConn issues commands for one session over the shared gateway.
type playerConn struct {
	gateway    *Gateway
	sessionKey string
}

func (c *playerConn) Play(ctx context.Context, track Track, nonce uint64) error {
	return c.gateway.send(ctx, commandFrame{Op: "play", Session: c.sessionKey, TrackID: track.ID, Nonce: nonce})
}

func (c *playerConn) Pause(ctx context.Context) error {
	paused := true
	return c.gateway.send(ctx, commandFrame{Op: "pause", Session: c.sessionKey, Paused: &paused})
}

func (c *playerConn) Resume(ctx context.Context) error {
	paused := false
	return c.gateway.send(ctx, commandFrame{Op: "pause", Session: c.sessionKey, Paused: &paused})
}

func (c *playerConn) Stop(ctx context.Context) error {
	return c.gateway.send(ctx, commandFrame{Op: "stop", Session: c.sessionKey})
}

func (c *playerConn) SetVolume(ctx context.Context, volume int) error {
	return c.gateway.send(ctx, commandFrame{Op: "volume", Session: c.sessionKey, Volume: &volume})
}

func (c *playerConn) Close(ctx context.Context) error {
	return c.gateway.send(ctx, commandFrame{Op: "disconnect", Session: c.sessionKey})
}
