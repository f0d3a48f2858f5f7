package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/goeas/internal/eas"
	"github.com/opd-ai/goeas/internal/syncstore"
)

// fakeMailStore is a minimal in-memory MailStore sufficient to exercise
// the engine's dispatch table without depending on internal/mailstore.
type fakeMailStore struct {
	items []eas.MailItem
}

func (f *fakeMailStore) ListFolder(_ context.Context, _ string, _ string, limit int) ([]eas.MailItem, error) {
	out := append([]eas.MailItem(nil), f.items...)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMailStore) GetItems(_ context.Context, _ string, ids []string) ([]eas.MailItem, error) {
	var out []eas.MailItem
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	for _, it := range f.items {
		if want[itemServerID(it)] {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeMailStore) Subscribe(_ string, _ []string) (eas.SubscriptionHandle, error) {
	return nil, nil
}
func (f *fakeMailStore) Unsubscribe(_ eas.SubscriptionHandle) {}

func storeWithIDs(firstID, count int64) *fakeMailStore {
	f := &fakeMailStore{}
	for i := int64(0); i < count; i++ {
		id := firstID + i
		f.items = append(f.items, eas.MailItem{ID: id, Subject: "s", From: "a@b", To: "c@d", ReceivedAt: time.Unix(0, 0)})
	}
	return f
}

func newTestEngine(mail *fakeMailStore) *Engine {
	logger := logrus.New()
	logger.SetOutput(discardWriter{})
	return New(syncstore.NewStore(), syncstore.NewIdempotencyCache(16), mail, logger)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestFreshSyncWindowAndMoreAvailable(t *testing.T) {
	mail := storeWithIDs(100, 12) // ids 100..111
	e := newTestEngine(mail)

	resp, err := e.Resolve(context.Background(), "alice", &eas.SyncRequest{ClientKey: "0", CollectionID: "1", WindowSize: 5})
	require.NoError(t, err)

	r, err := decodeSync(resp)
	require.NoError(t, err)
	assert.Equal(t, "1", r.syncKey)
	assert.Equal(t, []int64{111, 110, 109, 108, 107}, r.addIDs)
	assert.True(t, r.moreAvailable)
}

func TestAcknowledgeAndContinue(t *testing.T) {
	mail := storeWithIDs(100, 12)
	e := newTestEngine(mail)
	ctx := context.Background()

	_, err := e.Resolve(ctx, "alice", &eas.SyncRequest{ClientKey: "0", CollectionID: "1", WindowSize: 5})
	require.NoError(t, err)

	resp2, err := e.Resolve(ctx, "alice", &eas.SyncRequest{ClientKey: "1", CollectionID: "1", WindowSize: 5})
	require.NoError(t, err)
	r2, err := decodeSync(resp2)
	require.NoError(t, err)
	assert.Equal(t, "2", r2.syncKey)
	assert.Equal(t, []int64{106, 105, 104, 103, 102}, r2.addIDs)
	assert.True(t, r2.moreAvailable)
}

func TestIdempotentRetryBeforeAck(t *testing.T) {
	mail := storeWithIDs(100, 12)
	e := newTestEngine(mail)
	ctx := context.Background()

	first, err := e.Resolve(ctx, "alice", &eas.SyncRequest{ClientKey: "0", CollectionID: "1", WindowSize: 5})
	require.NoError(t, err)

	retry, err := e.Resolve(ctx, "alice", &eas.SyncRequest{ClientKey: "0", CollectionID: "1", WindowSize: 5})
	require.NoError(t, err)

	assert.Equal(t, first, retry, "retry before ack must be byte-identical")
}

func TestStaleKeyForcesReset(t *testing.T) {
	mail := storeWithIDs(100, 12)
	e := newTestEngine(mail)
	ctx := context.Background()

	// Pin CollectionState directly to the S4 scenario: confirmed key "6",
	// an outstanding pending batch "7", client far behind at "2".
	k := syncstore.Key{User: "alice", DeviceID: "", CollectionID: "1"}
	e.Store.With(k, func(st *syncstore.CollectionState) {
		st.SyncKey = "6"
		st.PendingSyncKey = "7"
		st.PendingItemIDs = []int64{200}
	})

	resp, err := e.Resolve(ctx, "alice", &eas.SyncRequest{ClientKey: "2", CollectionID: "1", WindowSize: 5})
	require.NoError(t, err)
	r, err := decodeSync(resp)
	require.NoError(t, err)
	assert.Equal(t, "0", r.syncKey)
	assert.Equal(t, 3, r.status)
	assert.Empty(t, r.addIDs)
}

func TestNoDuplicateAddAcrossBatches(t *testing.T) {
	mail := storeWithIDs(1, 20)
	e := newTestEngine(mail)
	ctx := context.Background()
	seen := map[int64]bool{}

	key := "0"
	for i := 0; i < 6; i++ {
		resp, err := e.Resolve(ctx, "bob", &eas.SyncRequest{ClientKey: key, CollectionID: "1", WindowSize: 5})
		require.NoError(t, err)
		r, err := decodeSync(resp)
		require.NoError(t, err)
		for _, id := range r.addIDs {
			assert.False(t, seen[id], "id %d emitted twice", id)
			seen[id] = true
		}
		key = r.syncKey
	}
}

func TestCaughtUpClientSeesKeyAdvanceOnNewMail(t *testing.T) {
	mail := storeWithIDs(100, 3) // ids 100,101,102
	e := newTestEngine(mail)
	ctx := context.Background()
	req := func(key string) *eas.SyncRequest {
		return &eas.SyncRequest{ClientKey: key, CollectionID: "1", WindowSize: 10}
	}

	resp, err := e.Resolve(ctx, "carol", req("0"))
	require.NoError(t, err)
	r, err := decodeSync(resp)
	require.NoError(t, err)
	require.Equal(t, "1", r.syncKey)
	require.False(t, r.moreAvailable)

	// Acknowledge; no new mail yet, so the ack branch's fresh batch is empty
	// and the key does not move.
	resp, err = e.Resolve(ctx, "carol", req("1"))
	require.NoError(t, err)
	r, err = decodeSync(resp)
	require.NoError(t, err)
	require.Equal(t, "1", r.syncKey)
	require.Empty(t, r.addIDs)

	// New mail arrives while the client is caught up (no pending batch,
	// client_key == server sync_key). This is the "default" dispatch
	// branch, and the outgoing key must strictly increase per spec
	// invariant 7 since the response carries an <Add>.
	mail.items = append(mail.items, eas.MailItem{ID: 103, Subject: "s", From: "a@b", To: "c@d", ReceivedAt: time.Unix(0, 0)})

	resp, err = e.Resolve(ctx, "carol", req("1"))
	require.NoError(t, err)
	r, err = decodeSync(resp)
	require.NoError(t, err)
	assert.Equal(t, "2", r.syncKey, "SyncKey must advance when a caught-up client is handed new Adds")
	assert.Equal(t, []int64{103}, r.addIDs)
}

func TestHeaderBytes(t *testing.T) {
	mail := storeWithIDs(1, 1)
	e := newTestEngine(mail)
	resp, err := e.Resolve(context.Background(), "a", &eas.SyncRequest{ClientKey: "0", CollectionID: "1", WindowSize: 5})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(resp), 4)
	assert.Equal(t, []byte{0x03, 0x01, 0x6A, 0x00}, resp[:4])
}
