package localhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openmined/bucketgallery/internal/lazyload"
)

const (
	writeTimeout   = 10 * time.Second
	shutdownReason = "shutdown"
	maxMessageSize = 64 * 1024
	clientBuffer   = 256
	visibleBuffer  = 256
)

// Render ops sent to the browser.
const (
	OpReset       = "reset"
	OpPlaceholder = "placeholder"
	OpObserve     = "observe"
	OpUnobserve   = "unobserve"
	OpResolved    = "resolved"
	OpFailed      = "failed"
)

// Client event types sent by the browser.
const (
	EventVisible = "visible"
)

// RenderEvent is one surface mutation.
type RenderEvent struct {
	Seq    uint64 `json:"seq"`
	Op     string `json:"op"`
	Handle string `json:"handle,omitempty"`
	Src    string `json:"src,omitempty"`
}

// ClientEvent is a message from the browser. Handles lists the placeholders
// that entered the viewport margin.
type ClientEvent struct {
	Type    string   `json:"type"`
	Handles []string `json:"handles"`
}

// Bridge connects the scheduler to browsers over WebSocket. It is the
// lazyload.RenderTarget (render ops are broadcast to every client) and the
// lazyload.VisibilitySource (visible events from any client are forwarded for
// observed handles). New clients receive a replay of the current surface.
type Bridge struct {
	acceptOpts *websocket.AcceptOptions

	mu       sync.RWMutex
	clients  map[string]*wsClient
	observed map[lazyload.Handle]struct{}
	surface  map[lazyload.Handle]*RenderEvent
	order    []lazyload.Handle
	seq      uint64
	closed   bool

	visible chan lazyload.Handle
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewBridge creates a bridge. originPatterns restricts which browser origins
// may connect, see websocket.AcceptOptions.
func NewBridge(originPatterns []string) *Bridge {
	return &Bridge{
		acceptOpts: &websocket.AcceptOptions{OriginPatterns: originPatterns},
		clients:    make(map[string]*wsClient),
		observed:   make(map[lazyload.Handle]struct{}),
		surface:    make(map[lazyload.Handle]*RenderEvent),
		visible:    make(chan lazyload.Handle, visibleBuffer),
		done:       make(chan struct{}),
	}
}

func (b *Bridge) Observe(h lazyload.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.observed[h] = struct{}{}
	b.broadcastLocked(&RenderEvent{Op: OpObserve, Handle: string(h)})
}

func (b *Bridge) Unobserve(h lazyload.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.observed[h]; !ok {
		return
	}
	delete(b.observed, h)
	b.broadcastLocked(&RenderEvent{Op: OpUnobserve, Handle: string(h)})
}

func (b *Bridge) Visible() <-chan lazyload.Handle {
	return b.visible
}

func (b *Bridge) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.surface)
	clear(b.observed)
	b.order = b.order[:0]
	b.broadcastLocked(&RenderEvent{Op: OpReset})
}

func (b *Bridge) SetPlaceholder(h lazyload.Handle, src string) {
	b.draw(&RenderEvent{Op: OpPlaceholder, Handle: string(h), Src: src})
}

func (b *Bridge) SetResolved(h lazyload.Handle, url string) {
	b.draw(&RenderEvent{Op: OpResolved, Handle: string(h), Src: url})
}

func (b *Bridge) SetFailed(h lazyload.Handle, src string) {
	b.draw(&RenderEvent{Op: OpFailed, Handle: string(h), Src: src})
}

// Surface returns the current state of every drawn handle in draw order.
func (b *Bridge) Surface() []RenderEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]RenderEvent, 0, len(b.order))
	for _, h := range b.order {
		out = append(out, *b.surface[h])
	}
	return out
}

func (b *Bridge) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Bridge) draw(ev *RenderEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := lazyload.Handle(ev.Handle)
	if _, ok := b.surface[h]; !ok {
		b.order = append(b.order, h)
	}
	b.broadcastLocked(ev)
	b.surface[h] = ev
}

func (b *Bridge) broadcastLocked(ev *RenderEvent) {
	b.seq++
	ev.Seq = b.seq
	for _, c := range b.clients {
		c.send(ev)
	}
}

// WebsocketHandler upgrades the request and serves the client until it
// disconnects or the bridge is closed.
func (b *Bridge) WebsocketHandler(ctx *gin.Context) {
	conn, err := websocket.Accept(ctx.Writer, ctx.Request, b.acceptOpts)
	if err != nil {
		AbortWithError(ctx, http.StatusBadRequest, ErrCodeBadRequest, fmt.Errorf("websocket accept failed: %w", err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	b.mu.Lock()
	client := newWSClient(conn, clientBuffer+len(b.order)+len(b.observed)+1)
	if b.closed {
		b.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, shutdownReason)
		return
	}
	// replay the surface so a late client starts from the current state,
	// with fresh seqs so the client sees them in order
	replay := func(ev RenderEvent) {
		b.seq++
		ev.Seq = b.seq
		client.send(&ev)
	}
	replay(RenderEvent{Op: OpReset})
	for _, h := range b.order {
		replay(*b.surface[h])
	}
	for h := range b.observed {
		replay(RenderEvent{Op: OpObserve, Handle: string(h)})
	}
	b.clients[client.id] = client
	b.wg.Add(1)
	active := len(b.clients)
	b.mu.Unlock()

	slog.Debug("bridge client connected", "connId", client.id, "ip", ctx.ClientIP(), "active", active)

	client.run(b.done, b.onClientEvent)

	b.mu.Lock()
	delete(b.clients, client.id)
	active = len(b.clients)
	b.mu.Unlock()
	b.wg.Done()

	slog.Debug("bridge client disconnected", "connId", client.id, "active", active)
}

func (b *Bridge) onClientEvent(ev *ClientEvent) {
	if ev.Type != EventVisible {
		slog.Debug("bridge unknown event", "type", ev.Type)
		return
	}

	for _, raw := range ev.Handles {
		h := lazyload.Handle(raw)

		b.mu.RLock()
		_, ok := b.observed[h]
		b.mu.RUnlock()
		if !ok {
			continue
		}

		select {
		case b.visible <- h:
		case <-b.done:
			return
		}
	}
}

// Close disconnects every client and waits for their handlers to return.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	slog.Debug("bridge closed")
}

var (
	_ lazyload.RenderTarget     = (*Bridge)(nil)
	_ lazyload.VisibilitySource = (*Bridge)(nil)
)

type wsClient struct {
	id        string
	conn      *websocket.Conn
	tx        chan *RenderEvent
	wsDone    chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, buffer int) *wsClient {
	return &wsClient{
		id:     uuid.NewString()[:8],
		conn:   conn,
		tx:     make(chan *RenderEvent, buffer),
		wsDone: make(chan struct{}),
	}
}

// send queues ev without blocking. A client that cannot keep up is
// disconnected; it gets a full replay when it reconnects.
func (c *wsClient) send(ev *RenderEvent) {
	select {
	case c.tx <- ev:
	default:
		slog.Warn("bridge client buffer full, disconnecting", "connId", c.id)
		go c.close(websocket.StatusPolicyViolation, "slow consumer")
	}
}

func (c *wsClient) close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.wsDone)
		c.conn.Close(status, reason)
	})
}

// run serves the connection until the client goes away or done is closed.
func (c *wsClient) run(done <-chan struct{}, onEvent func(*ClientEvent)) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.readLoop(ctx, onEvent)
	}()

	select {
	case <-done:
		c.close(websocket.StatusGoingAway, shutdownReason)
	case <-c.wsDone:
	}
	cancel()
	wg.Wait()
}

func (c *wsClient) readLoop(ctx context.Context, onEvent func(*ClientEvent)) {
	defer c.close(websocket.StatusNormalClosure, shutdownReason)

	for {
		var ev ClientEvent
		err := wsjson.Read(ctx, c.conn, &ev)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				// connection closed
			} else if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && status != websocket.StatusNoStatusRcvd {
				slog.Warn("bridge client reader", "connId", c.id, "error", err)
			}
			return
		}
		onEvent(&ev)
	}
}

func (c *wsClient) writeLoop(ctx context.Context) {
	defer c.close(websocket.StatusNormalClosure, shutdownReason)

	for {
		select {
		case ev := <-c.tx:
			ctxWrite, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(ctxWrite, c.conn, ev)
			cancel()
			if err != nil {
				slog.Debug("bridge client writer", "connId", c.id, "op", ev.Op, "error", err)
				return
			}

		case <-c.wsDone:
			return

		case <-ctx.Done():
			return
		}
	}
}
