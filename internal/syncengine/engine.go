// Package syncengine implements the Sync command's five-step dispatch
// table (spec §4.4): reset, acknowledgment, idempotent resend, stale
// key, and new-batch construction, including WindowSize enforcement,
// MoreAvailable emission, and stuck-state recovery.
package syncengine

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/goeas/internal/body"
	"github.com/opd-ai/goeas/internal/eas"
	"github.com/opd-ai/goeas/internal/syncstore"
	"github.com/opd-ai/goeas/internal/wbxml"
)

const (
	minWindowSize     = 1
	maxWindowSize     = 100
	defaultWindowSize = 25
)

// Status mirrors the WBXML <Status> values this engine can emit.
type Status int

const (
	StatusSuccess Status = 1
	StatusError   Status = 3
)

// Engine resolves Sync requests against the per-collection state store
// and a MailStore, producing the wire bytes of the response.
type Engine struct {
	Store      *syncstore.Store
	Idempotent *syncstore.IdempotencyCache
	Mail       eas.MailStore
	Log        *logrus.Logger

	// WindowSizeDefault and WindowSizeMax override the package defaults
	// (set from internal/config by the caller); New populates both with
	// the spec's hardcoded values so a caller that never touches them
	// still gets conformant behavior.
	WindowSizeDefault int
	WindowSizeMax     int
}

// New returns an Engine wired to the given collaborators. log may be
// nil, in which case a standard logrus.Logger is created.
func New(store *syncstore.Store, idempotent *syncstore.IdempotencyCache, mail eas.MailStore, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		Store:             store,
		Idempotent:        idempotent,
		Mail:              mail,
		Log:               log,
		WindowSizeDefault: defaultWindowSize,
		WindowSizeMax:     maxWindowSize,
	}
}

// Resolve runs the dispatch table for one Sync request and returns the
// complete WBXML response bytes.
func (e *Engine) Resolve(ctx context.Context, user string, req *eas.SyncRequest) ([]byte, error) {
	key := syncstore.Key{User: user, DeviceID: deviceIDFrom(ctx), CollectionID: req.CollectionID}
	st := e.Store.Load(key)

	log := e.Log.WithFields(logrus.Fields{
		"user":       user,
		"collection": req.CollectionID,
		"client_key": req.ClientKey,
		"server_key": st.SyncKey,
	})

	switch {
	// Idempotent resend and acknowledgment are checked ahead of the
	// "client_key == 0" reset rule: a client whose confirmed sync_key is
	// still "0" but who has an outstanding pending batch is retrying,
	// not resetting (spec §4.4 scenario S3).
	case st.HasPending() && keyAcknowledges(req.ClientKey, st.PendingSyncKey):
		log.Info("sync: acknowledgment, committing pending batch")
		e.Store.CommitPending(key)
		fresh := e.Store.Load(key)
		nextKey := fresh.SyncKey
		if parsed, ok := eas.ParseSyncKey(fresh.SyncKey); ok {
			nextKey = parsed.Next().String()
		}
		return e.buildNewBatch(ctx, user, key, req, nextKey)

	case st.HasPending() && isIdempotentResend(req.ClientKey, st.SyncKey, st.PendingSyncKey):
		log.Info("sync: idempotent resend")
		if cached, ok := e.Idempotent.Get(user, key.DeviceID, key.CollectionID, st.PendingSyncKey); ok {
			return cached, nil
		}
		// Cache miss (e.g. process restart) — rebuild deterministically
		// rather than fail the client outright.
		return e.buildNewBatch(ctx, user, key, req, st.PendingSyncKey)

	case req.ClientKey == "0":
		log.Info("sync: reset")
		e.Store.Reset(key)
		return e.buildNewBatch(ctx, user, key, req, "1")

	case isStale(req.ClientKey, st.SyncKey):
		log.Warn("sync: stale key, forcing reset")
		return encodeStaleResponse(req.CollectionID), nil

	default:
		nextKey := st.SyncKey
		if parsed, ok := eas.ParseSyncKey(st.SyncKey); ok {
			nextKey = parsed.Next().String()
		}
		log.WithField("candidate_key", nextKey).Info("sync: new batch")
		return e.buildNewBatch(ctx, user, key, req, nextKey)
	}
}

// keyAcknowledges reports whether clientKey matches pendingKey exactly
// or has advanced beyond it (recovery from a reply lost in transit).
func keyAcknowledges(clientKey, pendingKey string) bool {
	if clientKey == pendingKey {
		return true
	}
	c, cok := eas.ParseSyncKey(clientKey)
	p, pok := eas.ParseSyncKey(pendingKey)
	return cok && pok && c.Counter() > p.Counter()
}

// isIdempotentResend reports whether clientKey is either the last
// confirmed key or exactly one behind the pending key — the two
// shapes a retried request can take while a batch is outstanding.
func isIdempotentResend(clientKey, syncKey, pendingKey string) bool {
	if clientKey == syncKey {
		return true
	}
	c, cok := eas.ParseSyncKey(clientKey)
	p, pok := eas.ParseSyncKey(pendingKey)
	return cok && pok && p.Counter() > 0 && c.Counter() == p.Counter()-1
}

// isStale reports whether clientKey is far enough from the server's
// confirmed key that recovery should force a reset, per spec §4.4 step 4.
func isStale(clientKey, syncKey string) bool {
	if clientKey == "0" {
		return false
	}
	c, cok := eas.ParseSyncKey(clientKey)
	s, sok := eas.ParseSyncKey(syncKey)
	if !cok || !sok {
		return true
	}
	diff := int64(c.Counter()) - int64(s.Counter())
	if diff < 0 {
		diff = -diff
	}
	return diff > 3
}

func deviceIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDCtxKey{}).(string); ok {
		return v
	}
	return ""
}

type deviceIDCtxKey struct{}

// WithDeviceID attaches the requesting device id to ctx so Resolve can
// key the per-collection store without threading an extra parameter
// through every call site.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDCtxKey{}, deviceID)
}
