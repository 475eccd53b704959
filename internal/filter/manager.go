// Package filter implements the subscription/matching/dispatch pipeline of
// the sidecar: the subscription manager and its snapshot publication, the
// event bridge, the worker pool and the lease manager, wired together by
// the Engine.
package filter

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/natsift/natsift/internal/matcher"
)

// SubscriptionInfo describes one live subscription.
type SubscriptionInfo struct {
	ID         uint64
	Expression string
	// Clients holding active leases for this subscription.
	LeaseHolders map[string]struct{}
}

// SubscriptionManager owns the mutable set of expression subscriptions and
// publishes the compiled index to readers as immutable snapshots.
// Writers serialize on a mutex; readers load the current snapshot with a
// single atomic load and never contend with writers.
type SubscriptionManager struct {
	log          *slog.Logger
	schema       *matcher.Schema
	outputPrefix string

	snap atomic.Pointer[Snapshot]

	// Writer-only state, guarded by mu.
	mu       sync.Mutex
	nextID   uint64
	exprToID map[string]uint64
	subs     map[uint64]*SubscriptionInfo
}

// NewSubscriptionManager creates a manager and publishes an initial empty
// snapshot.
func NewSubscriptionManager(schema *matcher.Schema, outputPrefix string, log *slog.Logger) (*SubscriptionManager, error) {
	m := &SubscriptionManager{
		log:          log,
		schema:       schema,
		outputPrefix: outputPrefix,
		nextID:       1,
		exprToID:     make(map[string]uint64),
		subs:         make(map[uint64]*SubscriptionInfo),
	}
	if err := m.publishSnapshot(); err != nil {
		return nil, fmt.Errorf("publish initial snapshot: %w", err)
	}
	return m, nil
}

// publishSnapshot rebuilds the tree from every current expression and
// atomically stores a fresh snapshot. Caller holds mu.
func (m *SubscriptionManager) publishSnapshot() error {
	builder, err := matcher.NewTreeBuilder(m.schema)
	if err != nil {
		return err
	}
	for id, sub := range m.subs {
		if err := builder.Insert(id, sub.Expression); err != nil {
			return err
		}
	}

	snap := &Snapshot{
		Tree:           builder.Build(),
		OutputSubjects: make(map[uint64]string, len(m.subs)),
		ActiveCount:    len(m.subs),
	}
	for id := range m.subs {
		snap.OutputSubjects[id] = fmt.Sprintf("%s.%d", m.outputPrefix, id)
	}

	m.snap.Store(snap)
	return nil
}

// Subscribe registers an expression for a client and returns the
// subscription id. Idempotent on the expression: a repeat subscribe adds
// the client as a lease holder of the existing subscription without
// republishing the snapshot. A rejected expression leaves the manager
// state untouched.
func (m *SubscriptionManager) Subscribe(expression, clientID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.exprToID[expression]; ok {
		m.subs[id].LeaseHolders[clientID] = struct{}{}
		m.log.Info("reused subscription",
			"id", id, "expression", expression, "client", clientID)
		return id, nil
	}

	id := m.nextID
	m.nextID++

	m.subs[id] = &SubscriptionInfo{
		ID:           id,
		Expression:   expression,
		LeaseHolders: map[string]struct{}{clientID: {}},
	}
	m.exprToID[expression] = id

	if err := m.publishSnapshot(); err != nil {
		// Rebuild failed on the new expression; roll back the tentative
		// insertion before the error propagates.
		delete(m.subs, id)
		delete(m.exprToID, expression)
		m.nextID--
		return 0, err
	}

	m.log.Info("new subscription",
		"id", id, "expression", expression, "client", clientID)
	return id, nil
}

// RemoveLease drops one client's lease. Returns true only when the last
// lease holder is removed and the subscription is deleted.
func (m *SubscriptionManager) RemoveLease(id uint64, clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return false
	}

	delete(sub.LeaseHolders, clientID)
	if len(sub.LeaseHolders) > 0 {
		m.log.Debug("removed lease",
			"id", id, "client", clientID, "remaining", len(sub.LeaseHolders))
		return false
	}

	delete(m.exprToID, sub.Expression)
	delete(m.subs, id)
	m.log.Info("removed subscription (no active leases)",
		"id", id, "expression", sub.Expression)
	if err := m.publishSnapshot(); err != nil {
		// Every remaining expression compiled before, so a rebuild after a
		// removal cannot fail on expression validity.
		m.log.Error("snapshot rebuild failed after removal", "error", err)
	}
	return true
}

// RemoveSubscription force-deletes a subscription regardless of lease
// holders. Returns true if it existed.
func (m *SubscriptionManager) RemoveSubscription(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return false
	}

	delete(m.exprToID, sub.Expression)
	delete(m.subs, id)
	m.log.Info("force-removed subscription", "id", id, "expression", sub.Expression)
	if err := m.publishSnapshot(); err != nil {
		m.log.Error("snapshot rebuild failed after removal", "error", err)
	}
	return true
}

// GetSubscription returns a copy of the subscription, if it exists.
func (m *SubscriptionManager) GetSubscription(id uint64) (SubscriptionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return SubscriptionInfo{}, false
	}
	out := SubscriptionInfo{
		ID:           sub.ID,
		Expression:   sub.Expression,
		LeaseHolders: make(map[string]struct{}, len(sub.LeaseHolders)),
	}
	for c := range sub.LeaseHolders {
		out.LeaseHolders[c] = struct{}{}
	}
	return out, true
}

// FindByExpression returns the id registered for an expression.
func (m *SubscriptionManager) FindByExpression(expression string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.exprToID[expression]
	return id, ok
}

// Snapshot returns the current immutable snapshot. Lock-free; safe from
// any goroutine.
func (m *SubscriptionManager) Snapshot() *Snapshot {
	return m.snap.Load()
}

// ActiveCount returns the number of subscriptions in the current snapshot.
func (m *SubscriptionManager) ActiveCount() int {
	return m.snap.Load().ActiveCount
}
