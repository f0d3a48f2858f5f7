package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/goeas/internal/body"
	"github.com/opd-ai/goeas/internal/wbxml"
)

func encodeSyncRequest(t *testing.T, clientKey, collectionID string, windowSize int, fetchIDs []string) []byte {
	t.Helper()
	w := wbxml.NewWriter()
	w.Start(wbxml.CPAirSync, "Sync", true)
	w.Start(wbxml.CPAirSync, "Collections", true)
	w.Start(wbxml.CPAirSync, "Collection", true)
	w.Elem(wbxml.CPAirSync, "SyncKey", clientKey)
	w.Elem(wbxml.CPAirSync, "CollectionId", collectionID)
	if windowSize > 0 {
		w.ElemInt(wbxml.CPAirSync, "WindowSize", int64(windowSize))
	}
	w.Start(wbxml.CPAirSync, "Options", true)
	w.Start(wbxml.CPAirSyncBase, "BodyPreference", true)
	w.ElemInt(wbxml.CPAirSyncBase, "Type", 2)
	w.ElemInt(wbxml.CPAirSyncBase, "TruncationSize", 1024)
	w.End() // BodyPreference
	w.End() // Options
	if len(fetchIDs) > 0 {
		w.Start(wbxml.CPAirSync, "Commands", true)
		for _, id := range fetchIDs {
			w.Start(wbxml.CPAirSync, "Fetch", true)
			w.Elem(wbxml.CPAirSync, "ServerId", id)
			w.End()
		}
		w.End() // Commands
	}
	w.End() // Collection
	w.End() // Collections
	w.End() // Sync
	require.NoError(t, w.Err())
	return w.Bytes()
}

func TestSyncDecodesCoreFields(t *testing.T) {
	raw := encodeSyncRequest(t, "1", "5", 10, []string{"100", "101"})
	req, err := Sync(raw)
	require.NoError(t, err)
	assert.Equal(t, "1", req.ClientKey)
	assert.Equal(t, "5", req.CollectionID)
	assert.Equal(t, 10, req.WindowSize)
	assert.Equal(t, []string{"100", "101"}, req.FetchServerIDs)
	require.Len(t, req.BodyPreferences, 1)
	assert.Equal(t, body.KindHTML, req.BodyPreferences[0].Type)
	require.NotNil(t, req.BodyPreferences[0].TruncationSize)
	assert.Equal(t, 1024, *req.BodyPreferences[0].TruncationSize)
}

func TestSyncRejectsWrongRoot(t *testing.T) {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPFolderHierarchy, "FolderSync", true)
	w.End()
	_, err := Sync(w.Bytes())
	assert.ErrorIs(t, err, ErrUnexpectedRoot)
}

func TestFolderSyncDecode(t *testing.T) {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPFolderHierarchy, "FolderSync", true)
	w.Elem(wbxml.CPFolderHierarchy, "SyncKey", "2")
	w.End()
	req, err := FolderSync(w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "2", req.ClientKey)
}

func TestProvisionDecodePhase1NoPolicyKey(t *testing.T) {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPProvision, "Provision", true)
	w.End()
	req, err := Provision(w.Bytes())
	require.NoError(t, err)
	assert.Nil(t, req.ClientPolicyKey)
}

func TestProvisionDecodePhase2Acknowledges(t *testing.T) {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPProvision, "Provision", true)
	w.Start(wbxml.CPProvision, "Policies", true)
	w.Start(wbxml.CPProvision, "Policy", true)
	w.Elem(wbxml.CPProvision, "PolicyKey", "0")
	w.End() // Policy
	w.End() // Policies
	w.End() // Provision
	req, err := Provision(w.Bytes())
	require.NoError(t, err)
	require.NotNil(t, req.ClientPolicyKey)
	assert.Equal(t, "0", *req.ClientPolicyKey)
}

func TestPingDecode(t *testing.T) {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPPing, "Ping", true)
	w.ElemInt(wbxml.CPPing, "HeartbeatInterval", 600)
	w.Start(wbxml.CPPing, "Folders", true)
	w.Start(wbxml.CPPing, "Folder", true)
	w.Elem(wbxml.CPPing, "Id", "2")
	w.End()
	w.Start(wbxml.CPPing, "Folder", true)
	w.Elem(wbxml.CPPing, "Id", "5")
	w.End()
	w.End() // Folders
	w.End() // Ping
	req, err := Ping(w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 600, req.HeartbeatSeconds)
	assert.Equal(t, []string{"2", "5"}, req.FolderIDs)
}

func TestItemOperationsDecode(t *testing.T) {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPItemOperations, "ItemOperations", true)
	w.Start(wbxml.CPItemOperations, "Fetch", true)
	w.Elem(wbxml.CPAirSync, "CollectionId", "5")
	w.Elem(wbxml.CPAirSync, "ServerId", "123")
	w.Start(wbxml.CPAirSync, "Options", true)
	w.Start(wbxml.CPAirSyncBase, "BodyPreference", true)
	w.ElemInt(wbxml.CPAirSyncBase, "Type", 4)
	w.End()
	w.End() // Options
	w.End() // Fetch
	w.End() // ItemOperations

	req, err := ItemOperations(w.Bytes())
	require.NoError(t, err)
	require.Len(t, req.Fetches, 1)
	assert.Equal(t, "5", req.Fetches[0].CollectionID)
	assert.Equal(t, "123", req.Fetches[0].ServerID)
	require.Len(t, req.Fetches[0].BodyPreferences, 1)
	assert.Equal(t, body.KindMIME, req.Fetches[0].BodyPreferences[0].Type)
}

func TestSyncIgnoresUnknownSiblingElements(t *testing.T) {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPAirSync, "Sync", true)
	w.Start(wbxml.CPAirSync, "Collections", true)
	w.Start(wbxml.CPAirSync, "Collection", true)
	w.Elem(wbxml.CPAirSync, "SyncKey", "0")
	w.Elem(wbxml.CPAirSync, "CollectionId", "1")
	w.Empty(wbxml.CPAirSync, "GetChanges")
	w.End() // Collection
	w.End() // Collections
	w.End() // Sync

	req, err := Sync(w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "0", req.ClientKey)
	assert.Equal(t, "1", req.CollectionID)
}
