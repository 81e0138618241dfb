package websocket

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "storehub/internal/errors"
	"storehub/internal/infrastructure"
	"storehub/internal/session"
)

// Disconnect reasons
const (
	reasonClosed       = "closed"
	reasonSlowConsumer = "slow_consumer"
	reasonShutdown     = "shutdown"
)

// CodeNotAMember rejects room publishes from connections that never joined
const CodeNotAMember = "NOT_A_MEMBER"

// Connection is a point-in-time view of a registered connection
type Connection struct {
	ID            string           `json:"id"`
	Identity      session.Identity `json:"identity"`
	Subscriptions []string         `json:"subscriptions"`
	ConnectedAt   time.Time        `json:"connectedAt"`
	RemoteAddr    string           `json:"remoteAddr"`
}

// HubStats summarizes registry and topic state
type HubStats struct {
	Connections int            `json:"connections"`
	Anonymous   int            `json:"anonymous"`
	Topics      map[string]int `json:"topics"`
}

type registerReq struct {
	client *Client
	// withPumps counts the client's write pump so Stop can wait for it
	withPumps bool
	reply     chan string
}

type subscriptionReq struct {
	id    string
	topic string
	join  bool
	reply chan error
}

type publishReq struct {
	ev    Event
	frame []byte
	// fromConn is set for PublishFrom; origin must then be registered
	fromConn          bool
	requireMembership bool
	reply             chan publishResult
}

type publishResult struct {
	delivered int
	err       error
}

type directReq struct {
	id    string
	frame []byte
	reply chan error
}

// Hub owns the connection registry and the topic subscriber sets. Both maps are
// touched only by the Run goroutine; every other method sends it a command.
type Hub struct {
	clients map[string]*Client
	topics  map[string]map[string]*Client

	registerCh chan registerReq
	unregister chan string
	subscribe  chan subscriptionReq
	publish    chan publishReq
	direct     chan directReq
	query      chan func()

	listeners []DisconnectListener
	metrics   *Metrics
	logger    *slog.Logger

	metricsInterval time.Duration

	pumps     sync.WaitGroup
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	running   bool
	mu        sync.Mutex
}

// NewHub creates a Hub with the catalog topic already present
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("component", "websocket.hub"))

	return &Hub{
		clients:         make(map[string]*Client),
		topics:          map[string]map[string]*Client{CatalogTopic: {}},
		registerCh:      make(chan registerReq),
		unregister:      make(chan string),
		subscribe:       make(chan subscriptionReq),
		publish:         make(chan publishReq),
		direct:          make(chan directReq),
		query:           make(chan func()),
		metrics:         NewMetrics(),
		logger:          logger,
		metricsInterval: 30 * time.Second,
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// AddDisconnectListener registers l. Must be called before Start.
func (h *Hub) AddDisconnectListener(l DisconnectListener) {
	h.listeners = append(h.listeners, l)
}

// Metrics returns the in-process counters
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// Start launches the hub goroutine and the periodic metrics report
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		h.mu.Lock()
		h.running = true
		h.mu.Unlock()

		go h.Run()
		go h.reportMetrics()
	})
}

// Run is the hub's main loop
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.shutdown()
			return

		case req := <-h.registerCh:
			if req.withPumps {
				h.pumps.Add(1)
			}
			req.reply <- h.handleRegister(req.client)

		case id := <-h.unregister:
			h.remove(id, reasonClosed)

		case req := <-h.subscribe:
			if req.join {
				req.reply <- h.handleSubscribe(req.id, req.topic)
			} else {
				req.reply <- h.handleUnsubscribe(req.id, req.topic)
			}

		case req := <-h.publish:
			req.reply <- h.handlePublish(req)

		case req := <-h.direct:
			req.reply <- h.handleDirect(req.id, req.frame)

		case fn := <-h.query:
			fn()
		}
	}
}

// Stop closes every outbound channel, so each write pump flushes what is
// buffered and sends a close frame, then waits for the pumps or ctx.
func (h *Hub) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() {
		close(h.quit)
	})

	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if !running {
		return nil
	}

	<-h.done

	flushed := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errHubStopped() error {
	return apperrors.NewUnavailableError("hub is stopped", nil)
}

func submit[T any](ctx context.Context, h *Hub, ch chan<- T, req T) error {
	select {
	case ch <- req:
		return nil
	case <-h.quit:
		return errHubStopped()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await waits for the actor's reply. Once a request is accepted the actor
// always answers, so only ctx can cut the wait short.
func await[T any](ctx context.Context, reply <-chan T) (T, error) {
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Register adds client to the registry and returns its new connection id.
// The client receives a connection greeting as its first frame.
func (h *Hub) Register(ctx context.Context, client *Client) (string, error) {
	return h.register(ctx, client, false)
}

func (h *Hub) register(ctx context.Context, client *Client, withPumps bool) (string, error) {
	req := registerReq{client: client, withPumps: withPumps, reply: make(chan string, 1)}
	if err := submit(ctx, h, h.registerCh, req); err != nil {
		return "", err
	}
	if withPumps {
		// the pump is already counted; the caller must start it whatever ctx says
		return <-req.reply, nil
	}
	return await(ctx, req.reply)
}

// Unregister removes a connection from the registry and every topic. Unknown
// ids and calls after Stop are no-ops.
func (h *Hub) Unregister(id string) {
	select {
	case h.unregister <- id:
	case <-h.quit:
	}
}

// Subscribe adds id to topic, creating the topic if needed
func (h *Hub) Subscribe(ctx context.Context, id, topic string) error {
	return h.changeSubscription(ctx, id, topic, true)
}

// Unsubscribe removes id from topic. Leaving a topic not joined is a no-op.
func (h *Hub) Unsubscribe(ctx context.Context, id, topic string) error {
	return h.changeSubscription(ctx, id, topic, false)
}

func (h *Hub) changeSubscription(ctx context.Context, id, topic string, join bool) error {
	req := subscriptionReq{id: id, topic: topic, join: join, reply: make(chan error, 1)}
	if err := submit(ctx, h, h.subscribe, req); err != nil {
		return err
	}
	result, err := await(ctx, req.reply)
	if err != nil {
		return err
	}
	return result
}

// Lookup returns a snapshot of connection id
func (h *Hub) Lookup(ctx context.Context, id string) (Connection, error) {
	var (
		conn Connection
		err  error
	)
	if qerr := h.run(ctx, func() {
		c, ok := h.clients[id]
		if !ok {
			err = apperrors.NewNotFoundError("connection " + id)
			return
		}
		conn = c.snapshot()
	}); qerr != nil {
		return Connection{}, qerr
	}
	return conn, err
}

// Stats returns connection and per-topic subscriber counts
func (h *Hub) Stats(ctx context.Context) (HubStats, error) {
	var stats HubStats
	err := h.run(ctx, func() {
		stats = h.stats()
	})
	return stats, err
}

// run executes fn on the hub goroutine and waits for it to finish
func (h *Hub) run(ctx context.Context, fn func()) error {
	finished := make(chan struct{}, 1)
	if err := submit(ctx, h, h.query, func() {
		fn()
		finished <- struct{}{}
	}); err != nil {
		return err
	}
	_, err := await(ctx, finished)
	return err
}

// Publish delivers ev to every subscriber of ev.Topic and returns how many
// subscribers had it enqueued.
func (h *Hub) Publish(ctx context.Context, ev Event) (int, error) {
	if ev.OriginID == "" {
		ev.OriginID = OriginSystem
	}
	return h.submitPublish(ctx, ev, false, false)
}

// PublishFrom publishes on behalf of connection originID. The membership check
// and the fan-out happen in one hub step.
func (h *Hub) PublishFrom(ctx context.Context, originID string, ev Event, requireMembership bool) (int, error) {
	ev.OriginID = originID
	return h.submitPublish(ctx, ev, true, requireMembership)
}

func (h *Hub) submitPublish(ctx context.Context, ev Event, fromConn, requireMembership bool) (int, error) {
	if ev.Topic == "" {
		return 0, apperrors.NewValidationError("event topic is required")
	}
	frame, err := ev.Encode()
	if err != nil {
		return 0, apperrors.NewValidationError("event cannot be encoded").WithContext("cause", err.Error())
	}

	req := publishReq{
		ev:                ev,
		frame:             frame,
		fromConn:          fromConn,
		requireMembership: requireMembership,
		reply:             make(chan publishResult, 1),
	}
	if err := submit(ctx, h, h.publish, req); err != nil {
		return 0, err
	}
	result, err := await(ctx, req.reply)
	if err != nil {
		return 0, err
	}
	return result.delivered, result.err
}

// SendTo enqueues a frame for one connection only
func (h *Hub) SendTo(ctx context.Context, id string, frame []byte) error {
	req := directReq{id: id, frame: frame, reply: make(chan error, 1)}
	if err := submit(ctx, h, h.direct, req); err != nil {
		return err
	}
	result, err := await(ctx, req.reply)
	if err != nil {
		return err
	}
	return result
}

// Serve registers client, starts its pumps, and joins it to topics.
func (h *Hub) Serve(ctx context.Context, client *Client, topics ...string) (string, error) {
	id, err := h.register(ctx, client, true)
	if err != nil {
		return "", err
	}

	go func() {
		defer h.pumps.Done()
		client.WritePump()
	}()
	go client.ReadPump()

	if err := ctx.Err(); err != nil {
		h.Unregister(id)
		return "", err
	}
	for _, topic := range topics {
		if err := h.Subscribe(ctx, id, topic); err != nil {
			h.Unregister(id)
			return "", err
		}
	}
	return id, nil
}

// Actor-side handlers. Everything below runs on the Run goroutine.

func (h *Hub) handleRegister(c *Client) string {
	c.id = uuid.New().String()
	c.subscriptions = make(map[string]struct{})
	h.clients[c.id] = c

	ctx := c.context()
	h.metrics.RecordConnection(c.identity.Anonymous)
	GetOTelMetrics().RecordConnection(ctx, c.identity.Anonymous)

	greeting := controlFrame("", KindConnection, map[string]interface{}{
		"connectionId": c.id,
		"anonymous":    c.identity.Anonymous,
		"userId":       c.identity.UserID,
	})
	select {
	case c.send <- greeting:
	default:
		h.logger.WarnContext(ctx, "Failed to send connection greeting - client buffer full")
	}

	h.logger.InfoContext(ctx, "Client registered",
		slog.Int("total_clients", len(h.clients)),
		slog.String("identity", c.identity.Name()),
		slog.String("remote_addr", c.remoteAddr))
	return c.id
}

func (h *Hub) handleSubscribe(id, topic string) error {
	c, ok := h.clients[id]
	if !ok {
		return apperrors.NewNotFoundError("connection " + id)
	}
	if _, joined := c.subscriptions[topic]; joined {
		return nil
	}

	members, ok := h.topics[topic]
	if !ok {
		members = make(map[string]*Client)
		h.topics[topic] = members
	}
	members[id] = c
	c.subscriptions[topic] = struct{}{}

	ctx := c.context()
	GetOTelMetrics().RecordSubscription(ctx, topic, 1)
	h.logger.DebugContext(ctx, "Subscribed",
		slog.String("topic", topic),
		slog.Int("subscribers", len(members)))
	return nil
}

func (h *Hub) handleUnsubscribe(id, topic string) error {
	c, ok := h.clients[id]
	if !ok {
		return apperrors.NewNotFoundError("connection " + id)
	}
	if _, joined := c.subscriptions[topic]; !joined {
		return nil
	}
	h.leave(c, topic)
	h.logger.DebugContext(c.context(), "Unsubscribed", slog.String("topic", topic))
	return nil
}

// leave removes c from topic on both sides and collects the topic if it became empty
func (h *Hub) leave(c *Client, topic string) {
	delete(c.subscriptions, topic)
	if members, ok := h.topics[topic]; ok {
		delete(members, c.id)
		if len(members) == 0 && topic != CatalogTopic {
			delete(h.topics, topic)
		}
	}
	GetOTelMetrics().RecordSubscription(c.context(), topic, -1)
}

func (h *Hub) handlePublish(req publishReq) publishResult {
	topic := req.ev.Topic

	if req.fromConn {
		origin, ok := h.clients[req.ev.OriginID]
		if !ok {
			return publishResult{err: apperrors.NewNotFoundError("connection " + req.ev.OriginID)}
		}
		if req.requireMembership {
			if _, joined := origin.subscriptions[topic]; !joined {
				return publishResult{err: apperrors.NewAuthorizationError("not a member of " + topic).
					WithCode(CodeNotAMember)}
			}
		}
	}

	delivered, dropped := 0, 0
	for _, c := range h.topics[topic] {
		if h.enqueue(c, req.frame) {
			delivered++
		} else {
			dropped++
		}
	}

	h.metrics.RecordPublish(req.ev.Kind, delivered, dropped)
	GetOTelMetrics().RecordPublish(context.Background(), topic, req.ev.Kind, delivered, dropped)

	h.logger.Debug("Published event",
		slog.String("topic", topic),
		slog.String("kind", req.ev.Kind),
		slog.String("origin", req.ev.OriginID),
		slog.Int("delivered", delivered),
		slog.Int("dropped", dropped))
	return publishResult{delivered: delivered}
}

func (h *Hub) handleDirect(id string, frame []byte) error {
	c, ok := h.clients[id]
	if !ok {
		return apperrors.NewNotFoundError("connection " + id)
	}
	if !h.enqueue(c, frame) {
		return apperrors.NewTransportError("outbound buffer full", nil)
	}
	return nil
}

// enqueue never blocks. A full buffer evicts the client; other subscribers are unaffected.
func (h *Hub) enqueue(c *Client, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		err := apperrors.NewTransportError("outbound buffer full", nil).
			WithContext("buffer_size", cap(c.send))
		h.logger.WarnContext(c.context(), "Client send buffer full, disconnecting",
			slog.String("error", err.Error()))
		h.remove(c.id, reasonSlowConsumer)
		return false
	}
}

// remove drops a connection from the registry and all topics and closes its
// outbound channel. Returns false if id was not registered.
func (h *Hub) remove(id, reason string) bool {
	c, ok := h.clients[id]
	if !ok {
		return false
	}
	for topic := range c.subscriptions {
		h.leave(c, topic)
	}
	delete(h.clients, id)
	close(c.send)

	ctx := c.context()
	duration := time.Since(c.connectedAt)
	h.metrics.RecordDisconnection(duration, c.identity.Anonymous, reason == reasonSlowConsumer)
	GetOTelMetrics().RecordDisconnection(ctx, c.identity.Anonymous, duration, reason)

	for _, l := range h.listeners {
		l.OnDisconnect(id)
	}

	h.logger.InfoContext(ctx, "Client unregistered",
		slog.String("reason", reason),
		slog.Int("total_clients", len(h.clients)),
		slog.Duration("connection_duration", duration))
	return true
}

func (h *Hub) shutdown() {
	count := len(h.clients)
	for id := range h.clients {
		h.remove(id, reasonShutdown)
	}
	h.logger.Info("Hub shutting down", slog.Int("closed_clients", count))
}

func (h *Hub) stats() HubStats {
	stats := HubStats{
		Connections: len(h.clients),
		Topics:      make(map[string]int, len(h.topics)),
	}
	for _, c := range h.clients {
		if c.identity.Anonymous {
			stats.Anonymous++
		}
	}
	for name, members := range h.topics {
		stats.Topics[name] = len(members)
	}
	return stats
}

// reportMetrics periodically logs hub state
func (h *Hub) reportMetrics() {
	ticker := time.NewTicker(h.metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.quit:
			return
		case <-ticker.C:
			stats, err := h.Stats(context.Background())
			if err != nil {
				return
			}
			GetOTelMetrics().RecordTopicCount(context.Background(), int64(len(stats.Topics)))

			h.logger.Info("WebSocket hub metrics",
				slog.Int("active_clients", stats.Connections),
				slog.Int("anonymous_clients", stats.Anonymous),
				slog.Int("topics", len(stats.Topics)),
				slog.Int("catalog_subscribers", stats.Topics[CatalogTopic]))
		}
	}
}

func (c *Client) snapshot() Connection {
	subs := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		subs = append(subs, topic)
	}
	sort.Strings(subs)
	return Connection{
		ID:            c.id,
		Identity:      c.identity,
		Subscriptions: subs,
		ConnectedAt:   c.connectedAt,
		RemoteAddr:    c.remoteAddr,
	}
}
