package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/natsift/natsift/internal/config"
	"github.com/natsift/natsift/internal/matcher"
)

// Conn is the slice of the NATS client the engine uses. *nats.Conn
// satisfies it.
type Conn interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
}

// Engine wires the subscription manager, worker pool and lease manager to
// the messaging client: the inbound data subscription, the
// subscribe/unsubscribe request handlers and the periodic stats log.
type Engine struct {
	cfg    config.Config
	log    *slog.Logger
	schema *matcher.Schema
	subMgr *SubscriptionManager
	pool   *WorkerPool
	leases *LeaseManager

	conn     Conn
	natsSubs []*nats.Subscription

	received atomic.Uint64

	started   bool
	statsStop chan struct{}
	statsDone chan struct{}
}

// NewEngine builds the engine components from a validated config.
func NewEngine(cfg config.Config, log *slog.Logger) (*Engine, error) {
	schema := matcher.NewSchema(cfg.Attributes)
	subMgr, err := NewSubscriptionManager(schema, cfg.OutputPrefix, log)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		schema:    schema,
		subMgr:    subMgr,
		leases:    NewLeaseManager(subMgr, cfg.LeaseBucket, log),
		statsStop: make(chan struct{}),
		statsDone: make(chan struct{}),
	}, nil
}

// SubscriptionManager exposes the manager, mainly for tests and stats.
func (e *Engine) SubscriptionManager() *SubscriptionManager {
	return e.subMgr
}

// Start subscribes the input and control subjects, starts the lease
// watcher and the worker pool, and begins stats reporting. An error from
// any required subscription is fatal; a lease watcher failure is not.
func (e *Engine) Start(ctx context.Context, nc Conn, js jetstream.JetStream) error {
	e.conn = nc
	e.pool = NewWorkerPool(e.cfg, e.schema, e.subMgr, nc.Publish, e.log)

	var (
		dataSub *nats.Subscription
		err     error
	)
	if e.cfg.InputQueueGroup != "" {
		dataSub, err = nc.QueueSubscribe(e.cfg.InputSubject, e.cfg.InputQueueGroup, e.onDataMessage)
	} else {
		dataSub, err = nc.Subscribe(e.cfg.InputSubject, e.onDataMessage)
	}
	if err != nil {
		return fmt.Errorf("subscribe input subject %q: %w", e.cfg.InputSubject, err)
	}
	e.natsSubs = append(e.natsSubs, dataSub)
	e.log.Info("subscribed to input subject", "subject", e.cfg.InputSubject)

	ctrlSub, err := nc.Subscribe(e.cfg.SubscribeSubject, e.onSubscribeRequest)
	if err != nil {
		return fmt.Errorf("subscribe control subject %q: %w", e.cfg.SubscribeSubject, err)
	}
	e.natsSubs = append(e.natsSubs, ctrlSub)
	e.log.Info("listening for subscription requests", "subject", e.cfg.SubscribeSubject)

	unsubSub, err := nc.Subscribe(e.cfg.UnsubscribeSubject, e.onUnsubscribeRequest)
	if err != nil {
		return fmt.Errorf("subscribe control subject %q: %w", e.cfg.UnsubscribeSubject, err)
	}
	e.natsSubs = append(e.natsSubs, unsubSub)
	e.log.Info("listening for unsubscribe requests", "subject", e.cfg.UnsubscribeSubject)

	if err := e.leases.Start(ctx, js); err != nil {
		e.log.Warn("lease manager failed to start, soft-state cleanup disabled", "error", err)
	}

	e.pool.Start()

	go e.statsLoop()
	e.started = true

	e.log.Info("engine started",
		"format", e.cfg.Format.String(),
		"attributes", e.schema.Len(),
		"output", e.cfg.OutputPrefix+".<ID>")
	return nil
}

// Stop tears the pipeline down: the input and control subscriptions
// first, then the lease watcher, then the worker pool (which joins the
// workers and flushes handed-off publishes; messages still queued may go
// unprocessed), then the stats loop.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	e.started = false

	for _, s := range e.natsSubs {
		_ = s.Unsubscribe()
	}
	e.natsSubs = nil

	e.leases.Stop()
	e.pool.Stop()

	close(e.statsStop)
	<-e.statsDone
}

func (e *Engine) onDataMessage(msg *nats.Msg) {
	e.received.Add(1)
	if len(msg.Data) == 0 {
		return
	}
	payload := make([]byte, len(msg.Data))
	copy(payload, msg.Data)
	e.pool.Enqueue(payload)
}

type subscribeRequest struct {
	Expression string `json:"expression"`
	ClientID   string `json:"client_id"`
}

type subscribeReply struct {
	ID              uint64 `json:"id"`
	Topic           string `json:"topic"`
	LeaseBucket     string `json:"lease_bucket"`
	LeaseKey        string `json:"lease_key"`
	LeaseTTLSeconds int    `json:"lease_ttl_seconds"`
}

type unsubscribeRequest struct {
	ID       uint64 `json:"id"`
	ClientID string `json:"client_id"`
}

type unsubscribeReply struct {
	ID      uint64 `json:"id"`
	Removed bool   `json:"removed"`
}

type errorReply struct {
	Error string `json:"error"`
}

func errorJSON(format string, args ...any) []byte {
	data, _ := json.Marshal(errorReply{Error: fmt.Sprintf(format, args...)})
	return data
}

func (e *Engine) onSubscribeRequest(msg *nats.Msg) {
	if msg.Reply == "" {
		e.log.Warn("subscribe request without reply subject, ignoring")
		return
	}
	if err := msg.Respond(e.handleSubscribe(msg.Data)); err != nil {
		e.log.Error("failed to reply to subscribe request", "error", err)
	}
}

// handleSubscribe parses a subscribe request and returns the JSON reply.
func (e *Engine) handleSubscribe(payload []byte) []byte {
	var req subscribeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errorJSON("Bad request: %v", err)
	}
	if req.Expression == "" {
		return errorJSON("Bad request: missing 'expression'")
	}
	if req.ClientID == "" {
		return errorJSON("Bad request: missing 'client_id'")
	}

	id, err := e.subMgr.Subscribe(req.Expression, req.ClientID)
	if err != nil {
		if errors.Is(err, matcher.ErrInvalidExpression) {
			detail := strings.TrimPrefix(err.Error(), matcher.ErrInvalidExpression.Error()+": ")
			return errorJSON("Invalid expression: %s", detail)
		}
		return errorJSON("Bad request: %v", err)
	}

	data, _ := json.Marshal(subscribeReply{
		ID:              id,
		Topic:           fmt.Sprintf("%s.%d", e.cfg.OutputPrefix, id),
		LeaseBucket:     e.cfg.LeaseBucket,
		LeaseKey:        MakeLeaseKey(id, req.ClientID),
		LeaseTTLSeconds: e.cfg.LeaseTTLSeconds,
	})
	return data
}

func (e *Engine) onUnsubscribeRequest(msg *nats.Msg) {
	resp := e.handleUnsubscribe(msg.Data)
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(resp); err != nil {
		e.log.Error("failed to reply to unsubscribe request", "error", err)
	}
}

// handleUnsubscribe parses an unsubscribe request and returns the JSON
// reply.
func (e *Engine) handleUnsubscribe(payload []byte) []byte {
	var req unsubscribeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errorJSON("Bad request: %v", err)
	}
	if req.ID == 0 {
		return errorJSON("Bad request: missing 'id'")
	}
	if req.ClientID == "" {
		return errorJSON("Bad request: missing 'client_id'")
	}

	removed := e.subMgr.RemoveLease(req.ID, req.ClientID)
	data, _ := json.Marshal(unsubscribeReply{ID: req.ID, Removed: removed})
	return data
}

func (e *Engine) statsLoop() {
	defer close(e.statsDone)

	interval := time.Duration(e.cfg.StatsIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.statsStop:
			return
		case <-ticker.C:
			s := e.pool.GetStats()
			e.log.Info("stats",
				"received", e.received.Load(),
				"processed", s.Processed,
				"matched", s.Matched,
				"published", s.Published,
				"failures", s.MatchFailures,
				"subscriptions", e.subMgr.ActiveCount(),
				"queue_depth", s.QueueDepth)
		}
	}
}
