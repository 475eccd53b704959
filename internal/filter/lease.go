package filter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Leases are entries in a NATS KV bucket keyed "<id>.<client_id>"; their
// value is opaque and their TTL is enforced server-side. Clients install
// and refresh their own leases; the sidecar only watches for deletions and
// expirations and reconciles them with the subscription manager.

// LeaseRemover is the slice of the subscription manager the lease watcher
// needs.
type LeaseRemover interface {
	RemoveLease(id uint64, clientID string) bool
}

// LeaseManager watches the lease bucket and removes leases whose KV
// entries are deleted or expire.
type LeaseManager struct {
	log    *slog.Logger
	bucket string
	subs   LeaseRemover

	watcher jetstream.KeyWatcher
	done    chan struct{}
}

// NewLeaseManager creates a lease manager over the given bucket.
func NewLeaseManager(subs LeaseRemover, bucket string, log *slog.Logger) *LeaseManager {
	return &LeaseManager{
		log:    log,
		bucket: bucket,
		subs:   subs,
		done:   make(chan struct{}),
	}
}

// MakeLeaseKey builds the KV key carrying both reconciliation coordinates.
func MakeLeaseKey(id uint64, clientID string) string {
	return strconv.FormatUint(id, 10) + "." + clientID
}

// ParseLeaseKey splits "<id>.<client_id>" at the first dot. Keys with an
// empty or non-numeric id part, or an empty client part, are rejected.
func ParseLeaseKey(key string) (id uint64, clientID string, ok bool) {
	idPart, clientPart, found := strings.Cut(key, ".")
	if !found || idPart == "" || clientPart == "" {
		return 0, "", false
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, clientPart, true
}

// Start opens a watch over the whole bucket. A failure here is reported to
// the caller, who treats it as non-fatal: the sidecar runs without
// soft-state cleanup.
func (lm *LeaseManager) Start(ctx context.Context, js jetstream.JetStream) error {
	if js == nil {
		return fmt.Errorf("no JetStream context")
	}
	kv, err := js.KeyValue(ctx, lm.bucket)
	if err != nil {
		return fmt.Errorf("open lease bucket %q: %w", lm.bucket, err)
	}
	watcher, err := kv.WatchAll(ctx)
	if err != nil {
		return fmt.Errorf("watch lease bucket %q: %w", lm.bucket, err)
	}
	lm.watcher = watcher

	go lm.watchLoop()
	lm.log.Info("watching lease bucket", "bucket", lm.bucket)
	return nil
}

// Stop ends the watch and waits for the loop to exit. Safe to call when
// Start failed or was never called.
func (lm *LeaseManager) Stop() {
	if lm.watcher == nil {
		return
	}
	_ = lm.watcher.Stop()
	<-lm.done
}

func (lm *LeaseManager) watchLoop() {
	defer close(lm.done)
	for entry := range lm.watcher.Updates() {
		// A nil entry marks the end of the initial replay.
		if entry == nil {
			continue
		}
		lm.handleEntry(entry.Key(), entry.Operation())
	}
}

func (lm *LeaseManager) handleEntry(key string, op jetstream.KeyValueOp) {
	if op == jetstream.KeyValuePut {
		// A client installed or refreshed its lease.
		lm.log.Debug("lease put", "key", key)
		return
	}

	// Delete or purge: the lease expired or was dropped.
	id, clientID, ok := ParseLeaseKey(key)
	if !ok {
		lm.log.Warn("malformed lease key", "key", key)
		return
	}

	lm.log.Info("lease expired", "id", id, "client", clientID)
	if lm.subs.RemoveLease(id, clientID) {
		lm.log.Info("subscription fully removed (no active leases)", "id", id)
	}
}
