package syncengine

import (
	"context"
	"sort"
	"strconv"

	"github.com/opd-ai/goeas/internal/body"
	"github.com/opd-ai/goeas/internal/eas"
	"github.com/opd-ai/goeas/internal/syncstore"
	"github.com/opd-ai/goeas/internal/wbxml"
)

// buildNewBatch implements spec §4.4's "new-batch construction": query,
// exclude already-synced/pending ids, window-truncate, emit <Add> and
// optional <MoreAvailable/>, resolve any requested <Fetch> entries,
// stage the batch if it carries Adds, cache it for idempotent resend.
func (e *Engine) buildNewBatch(ctx context.Context, user string, key syncstore.Key, req *eas.SyncRequest, responseKey string) ([]byte, error) {
	st := e.Store.Load(key)

	windowDefault, windowMax := e.WindowSizeDefault, e.WindowSizeMax
	if windowDefault <= 0 {
		windowDefault = defaultWindowSize
	}
	if windowMax <= 0 {
		windowMax = maxWindowSize
	}

	window := req.WindowSize
	if window <= 0 {
		window = windowDefault
	}
	if window > windowMax {
		window = windowMax
	}

	items, err := e.Mail.ListFolder(ctx, user, req.CollectionID, windowMax*4)
	if err != nil {
		e.Log.WithError(err).Warn("sync: mail store list_folder failed")
		return encodeErrorResponse(req.CollectionID, StatusError), nil
	}

	excluded := idSet(st.SyncedIDs)
	for _, id := range st.PendingItemIDs {
		excluded[id] = struct{}{}
	}

	var unsent []eas.MailItem
	for _, it := range items {
		if _, skip := excluded[it.ID]; skip {
			continue
		}
		unsent = append(unsent, it)
	}

	e.maybeRecoverStuckState(key, st, unsent)

	adds := unsent
	moreAvailable := false
	if len(adds) > window {
		adds = adds[:window]
		moreAvailable = true
	}

	fetches, err := e.resolveFetches(ctx, user, req)
	if err != nil {
		e.Log.WithError(err).Warn("sync: fetch resolution failed")
		return encodeErrorResponse(req.CollectionID, StatusError), nil
	}

	advancesKey := len(adds) > 0 || moreAvailable
	finalKey := st.SyncKey
	if advancesKey {
		finalKey = responseKey
	}

	payload := encodeSyncResponse(syncResponseInput{
		collectionID:  req.CollectionID,
		syncKey:       finalKey,
		adds:          adds,
		moreAvailable: moreAvailable,
		fetches:       fetches,
		bodyPrefs:     req.BodyPreferences,
	})

	if advancesKey {
		ids := idsOf(adds)
		e.Store.StagePending(key, finalKey, ids)
		e.Idempotent.Put(user, key.DeviceID, key.CollectionID, finalKey, payload)
	}

	return payload, nil
}

// resolveFetches resolves every requested ServerId into a full
// <Responses><Fetch> block carrying the selected body under the
// client's preferred BodyPreference. Fetch resolution never advances
// the SyncKey on its own (spec invariant 7).
func (e *Engine) resolveFetches(ctx context.Context, user string, req *eas.SyncRequest) ([]fetchResult, error) {
	if len(req.FetchServerIDs) == 0 {
		return nil, nil
	}
	items, err := e.Mail.GetItems(ctx, user, req.FetchServerIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]eas.MailItem, len(items))
	for _, it := range items {
		byID[itemServerID(it)] = it
	}
	out := make([]fetchResult, 0, len(req.FetchServerIDs))
	for _, sid := range req.FetchServerIDs {
		it, ok := byID[sid]
		if !ok {
			continue
		}
		kind := body.SelectForFetch(req.BodyPreferences)
		pref := body.EffectivePreference(req.BodyPreferences, kind)
		payload, err := body.Assemble(kind, it.ToSource())
		if err != nil {
			return nil, err
		}
		out = append(out, fetchResult{serverID: sid, emission: body.Truncate(payload, pref)})
	}
	return out, nil
}

// maybeRecoverStuckState implements spec §4.4's stuck-state recovery:
// if the store reports nothing new and synced_ids has saturated its
// cap, clear it to force a full resync rather than wedge forever.
func (e *Engine) maybeRecoverStuckState(key syncstore.Key, st syncstore.CollectionState, unsent []eas.MailItem) {
	const syncedIDsCap = 2000
	if len(unsent) == 0 && !st.HasPending() && len(st.SyncedIDs) >= syncedIDsCap {
		e.Log.WithField("collection", key.CollectionID).Warn("sync: stuck-state recovery, clearing synced_ids")
		e.Store.ClearSyncedIDs(key)
	}
}

func idSet(ids []int64) map[int64]struct{} {
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func idsOf(items []eas.MailItem) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func itemServerID(it eas.MailItem) string {
	return strconv.FormatInt(it.ID, 10)
}

type fetchResult struct {
	serverID string
	emission body.Emission
}

type syncResponseInput struct {
	collectionID  string
	syncKey       string
	adds          []eas.MailItem
	moreAvailable bool
	fetches       []fetchResult
	bodyPrefs     []body.Preference
}

// encodeSyncResponse writes the full <Sync> document, respecting the
// required <Collection> child ordering (spec §4.4, invariant 3):
// SyncKey, CollectionId, Class, Status, Commands, MoreAvailable,
// Responses.
func encodeSyncResponse(in syncResponseInput) []byte {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPAirSync, "Sync", true)
	w.Start(wbxml.CPAirSync, "Collections", true)
	w.Start(wbxml.CPAirSync, "Collection", true)

	w.Elem(wbxml.CPAirSync, "SyncKey", in.syncKey)
	w.Elem(wbxml.CPAirSync, "CollectionId", in.collectionID)
	w.Elem(wbxml.CPAirSync, "Class", "Email")
	w.ElemInt(wbxml.CPAirSync, "Status", int64(StatusSuccess))

	if len(in.adds) > 0 {
		w.Start(wbxml.CPAirSync, "Commands", true)
		kind := body.SelectForSync(in.bodyPrefs)
		pref := body.EffectivePreference(in.bodyPrefs, kind)
		sortNewestFirst(in.adds)
		for _, it := range in.adds {
			writeAdd(w, it, kind, pref)
		}
		w.End() // Commands
	}

	if in.moreAvailable {
		w.Empty(wbxml.CPAirSync, "MoreAvailable")
	}

	if len(in.fetches) > 0 {
		w.Start(wbxml.CPAirSync, "Responses", true)
		for _, f := range in.fetches {
			w.Start(wbxml.CPAirSync, "Fetch", true)
			w.Elem(wbxml.CPAirSync, "ServerId", f.serverID)
			w.ElemInt(wbxml.CPAirSync, "Status", int64(StatusSuccess))
			body.EmitBody(w, f.emission)
			w.End() // Fetch
		}
		w.End() // Responses
	}

	w.End() // Collection
	w.End() // Collections
	w.End() // Sync
	return w.Bytes()
}

func writeAdd(w *wbxml.Writer, it eas.MailItem, kind body.Kind, pref *body.Preference) {
	w.Start(wbxml.CPAirSync, "Add", true)
	w.Elem(wbxml.CPAirSync, "ServerId", itemServerID(it))
	w.Start(wbxml.CPAirSync, "ApplicationData", true)

	w.Elem(wbxml.CPEmail, "Subject", it.Subject)
	w.Elem(wbxml.CPEmail, "From", it.From)
	w.Elem(wbxml.CPEmail, "To", it.To)
	w.Elem(wbxml.CPEmail, "DateReceived", it.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	readFlag := int64(0)
	if it.IsRead {
		readFlag = 1
	}
	w.ElemInt(wbxml.CPEmail, "Read", readFlag)

	payload, err := body.Assemble(kind, it.ToSource())
	if err == nil {
		emission := body.Truncate(payload, pref)
		body.EmitBody(w, emission)
	}

	w.End() // ApplicationData
	w.End() // Add
}

// encodeStaleResponse implements spec §4.4 step 4: a minimal Status=3
// forcing a reset, no item data, no state mutation.
func encodeStaleResponse(collectionID string) []byte {
	return encodeErrorResponse(collectionID, StatusError)
}

func encodeErrorResponse(collectionID string, status Status) []byte {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPAirSync, "Sync", true)
	w.Start(wbxml.CPAirSync, "Collections", true)
	w.Start(wbxml.CPAirSync, "Collection", true)
	w.Elem(wbxml.CPAirSync, "SyncKey", "0")
	w.Elem(wbxml.CPAirSync, "CollectionId", collectionID)
	w.Elem(wbxml.CPAirSync, "Class", "Email")
	w.ElemInt(wbxml.CPAirSync, "Status", int64(status))
	w.End() // Collection
	w.End() // Collections
	w.End() // Sync
	return w.Bytes()
}

func sortNewestFirst(items []eas.MailItem) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].ID > items[j].ID })
}
