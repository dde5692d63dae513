package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ConnectionState tracks where the client is in its lifecycle.
type ConnectionState string

const (
	StateDisconnected   ConnectionState = "disconnected"
	StateConnecting     ConnectionState = "connecting"
	StateAuthenticating ConnectionState = "authenticating"
	StateSubscribed     ConnectionState = "subscribed"
)

const (
	defaultRequestTimeout = 10 * time.Second
	baseReconnectDelay    = 5 * time.Second
	maxReconnectDelay     = 30 * time.Second
)

// SocketClient speaks the hub's websocket protocol: token auth on connect,
// a state_changed event subscription, and id-correlated request/reply for
// registry queries. Inbound messages are processed sequentially by a single
// read loop; outbound requests may overlap because replies are matched by id.
//
// A SocketClient instance owns one logical connection and must not be shared
// across independent connections.
type SocketClient struct {
	url    string
	token  string
	logger *logrus.Logger
	dialer *websocket.Dialer

	requestTimeout time.Duration
	baseDelay      time.Duration
	maxDelay       time.Duration

	writeMu        sync.Mutex
	mu             sync.Mutex
	conn           *websocket.Conn
	state          ConnectionState
	nextID         int
	pending        map[int]chan Message
	handlers       map[string]EventHandler
	retryCount     int
	reconnectTimer *time.Timer
	closed         bool
	onStateChange  func(ConnectionState)
}

// Option adjusts client behavior, mainly for tests.
type Option func(*SocketClient)

// WithRequestTimeout overrides the 10 second reply timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *SocketClient) { c.requestTimeout = d }
}

// WithReconnectDelays overrides the reconnect backoff parameters.
func WithReconnectDelays(base, max time.Duration) Option {
	return func(c *SocketClient) {
		c.baseDelay = base
		c.maxDelay = max
	}
}

// NewSocketClient creates a websocket client for the hub at baseURL.
func NewSocketClient(baseURL, token string, logger *logrus.Logger, opts ...Option) *SocketClient {
	c := &SocketClient{
		url:            websocketURL(baseURL),
		token:          token,
		logger:         logger,
		dialer:         websocket.DefaultDialer,
		requestTimeout: defaultRequestTimeout,
		baseDelay:      baseReconnectDelay,
		maxDelay:       maxReconnectDelay,
		state:          StateDisconnected,
		pending:        make(map[int]chan Message),
		handlers:       make(map[string]EventHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// websocketURL converts the hub's HTTP base URL into its websocket endpoint.
func websocketURL(baseURL string) string {
	trimmed := strings.TrimSuffix(baseURL, "/")
	if u, err := url.Parse(trimmed); err == nil {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		case "http":
			u.Scheme = "ws"
		}
		trimmed = u.String()
	}
	if strings.HasSuffix(trimmed, "/api/websocket") {
		return trimmed
	}
	return trimmed + "/api/websocket"
}

// OnStateChange registers a callback invoked on every state transition.
func (c *SocketClient) OnStateChange(handler func(ConnectionState)) {
	c.mu.Lock()
	c.onStateChange = handler
	c.mu.Unlock()
}

// OnEvent registers the handler for one event type. Exactly one handler per
// type is allowed; EventWildcard ("*") catches event types with no specific
// handler.
func (c *SocketClient) OnEvent(eventType string, handler EventHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.handlers[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerRegistered, eventType)
	}
	c.handlers[eventType] = handler
	return nil
}

// State returns the current connection state.
func (c *SocketClient) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the client is authenticated and subscribed.
func (c *SocketClient) IsConnected() bool {
	return c.State() == StateSubscribed
}

// Connect dials the hub, runs the auth handshake and subscribes to the
// state_changed stream. On success the read loop is running and the client is
// in the subscribed state. An auth rejection returns ErrAuthInvalid and does
// not schedule a reconnect; any other failure schedules one.
func (c *SocketClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.connectFailed()
		return fmt.Errorf("failed to dial %s: %w", c.url, err)
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		if IsAuthError(err) {
			// Credential errors are not a backoff condition.
			c.logger.WithError(err).Error("Authentication rejected, not retrying")
			return err
		}
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.retryCount = 0
	// A successful connect cancels any reconnect still pending.
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.setStateLocked(StateSubscribed)
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.subscribeStateChanges(ctx); err != nil {
		c.logger.WithError(err).Error("Event subscription failed")
		conn.Close()
		return err
	}

	c.logger.WithField("url", c.url).Info("Connected to Home Assistant websocket")
	return nil
}

// authenticate waits for auth_required, sends the token and waits for the
// verdict.
func (c *SocketClient) authenticate(conn *websocket.Conn) error {
	c.mu.Lock()
	c.setStateLocked(StateAuthenticating)
	c.mu.Unlock()

	var hello Message
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("failed to read auth challenge: %w", err)
	}
	if hello.Type != MessageTypeAuthRequired {
		return fmt.Errorf("unexpected first message type %q", hello.Type)
	}

	if err := conn.WriteJSON(authMessage{Type: MessageTypeAuth, AccessToken: c.token}); err != nil {
		return fmt.Errorf("failed to send credentials: %w", err)
	}

	var verdict Message
	if err := conn.ReadJSON(&verdict); err != nil {
		return fmt.Errorf("failed to read auth verdict: %w", err)
	}

	switch verdict.Type {
	case MessageTypeAuthOK:
		return nil
	case MessageTypeAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuthInvalid, verdict.Message)
	default:
		return fmt.Errorf("unexpected auth verdict type %q", verdict.Type)
	}
}

func (c *SocketClient) subscribeStateChanges(ctx context.Context) error {
	reply, err := c.send(ctx, func(id int) any {
		return subscribeEventsRequest{ID: id, Type: "subscribe_events", EventType: EventStateChanged}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to state changes: %w", err)
	}
	if reply.Success != nil && !*reply.Success {
		return fmt.Errorf("subscription rejected: %s", replyError(reply))
	}
	return nil
}

// GetDeviceRegistry fetches the hub's device registry.
func (c *SocketClient) GetDeviceRegistry(ctx context.Context) ([]RegistryDevice, error) {
	reply, err := c.send(ctx, func(id int) any {
		return registryListRequest{ID: id, Type: "config/device_registry/list"}
	})
	if err != nil {
		return nil, err
	}
	if reply.Success != nil && !*reply.Success {
		return nil, fmt.Errorf("device registry request rejected: %s", replyError(reply))
	}

	var devices []RegistryDevice
	if err := json.Unmarshal(reply.Result, &devices); err != nil {
		return nil, fmt.Errorf("failed to parse device registry: %w", err)
	}
	return devices, nil
}

// GetEntityRegistry fetches the hub's entity registry.
func (c *SocketClient) GetEntityRegistry(ctx context.Context) ([]RegistryEntry, error) {
	reply, err := c.send(ctx, func(id int) any {
		return registryListRequest{ID: id, Type: "config/entity_registry/list"}
	})
	if err != nil {
		return nil, err
	}
	if reply.Success != nil && !*reply.Success {
		return nil, fmt.Errorf("entity registry request rejected: %s", replyError(reply))
	}

	var entries []RegistryEntry
	if err := json.Unmarshal(reply.Result, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse entity registry: %w", err)
	}
	return entries, nil
}

// send assigns the next request id, registers a pending entry and writes the
// frame produced by build. It fails immediately when disconnected, and with
// ErrRequestTimeout when no reply arrives in time. Whichever of reply and
// timeout comes second is a no-op.
func (c *SocketClient) send(ctx context.Context, build func(id int) any) (Message, error) {
	c.mu.Lock()
	if c.conn == nil || (c.state != StateSubscribed && c.state != StateAuthenticating) {
		c.mu.Unlock()
		return Message{}, ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	ch := make(chan Message, 1)
	c.pending[id] = ch
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteJSON(build(id))
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return Message{}, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return Message{}, ErrConnectionClosed
		}
		return reply, nil
	case <-time.After(c.requestTimeout):
		c.dropPending(id)
		return Message{}, fmt.Errorf("%w: request %d", ErrRequestTimeout, id)
	case <-ctx.Done():
		c.dropPending(id)
		return Message{}, ctx.Err()
	}
}

func (c *SocketClient) dropPending(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop processes inbound frames sequentially until the socket fails.
func (c *SocketClient) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		switch msg.Type {
		case MessageTypeResult:
			c.resolvePending(msg)
		case MessageTypeEvent:
			c.dispatchEvent(msg)
		default:
			c.logger.WithField("type", msg.Type).Debug("Ignoring unexpected message type")
		}
	}
}

func (c *SocketClient) resolvePending(msg Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Late reply after a timeout already resolved the request.
		c.logger.WithField("id", msg.ID).Debug("Reply for unknown request id")
		return
	}
	ch <- msg
}

func (c *SocketClient) dispatchEvent(msg Message) {
	if msg.Event == nil {
		return
	}

	c.mu.Lock()
	handler, ok := c.handlers[msg.Event.EventType]
	if !ok {
		handler, ok = c.handlers[EventWildcard]
	}
	c.mu.Unlock()

	if !ok {
		c.logger.WithField("event_type", msg.Event.EventType).Debug("No handler for event type")
		return
	}
	handler(*msg.Event)
}

// handleDisconnect fails all in-flight requests and schedules a reconnect
// unless the client was closed deliberately.
func (c *SocketClient) handleDisconnect(conn *websocket.Conn, cause error) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	closed := c.closed
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if closed {
		return
	}

	c.logger.WithError(cause).Warn("Websocket connection lost")
	c.scheduleReconnect()
}

func (c *SocketClient) connectFailed() {
	c.mu.Lock()
	c.setStateLocked(StateDisconnected)
	closed := c.closed
	c.mu.Unlock()

	if !closed {
		c.scheduleReconnect()
	}
}

func (c *SocketClient) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.reconnectTimer != nil {
		return
	}

	c.retryCount++
	delay := reconnectDelay(c.retryCount, c.baseDelay, c.maxDelay)
	c.logger.WithFields(logrus.Fields{
		"retry": c.retryCount,
		"delay": delay,
	}).Info("Scheduling websocket reconnect")

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if err := c.Connect(context.Background()); err != nil {
			c.logger.WithError(err).Debug("Reconnect attempt failed")
		}
	})
}

// reconnectDelay grows linearly with the retry count and is capped.
func reconnectDelay(retryCount int, base, max time.Duration) time.Duration {
	delay := time.Duration(retryCount) * base
	if delay > max {
		return max
	}
	return delay
}

// Close shuts the connection down and cancels any pending reconnect. The
// client cannot be reused afterwards.
func (c *SocketClient) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *SocketClient) setStateLocked(state ConnectionState) {
	if c.state == state {
		return
	}
	c.state = state
	if c.onStateChange != nil {
		handler := c.onStateChange
		go handler(state)
	}
}

func replyError(msg Message) string {
	if msg.Error == nil {
		return "unknown error"
	}
	return fmt.Sprintf("%s: %s", msg.Error.Code, msg.Error.Message)
}
