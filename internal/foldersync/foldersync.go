// Package foldersync implements the FolderSync command (spec §4.8): a
// fixed hierarchy of seven system folders served under a
// hierarchy-scoped sync key, reusing the same key-progression shape as
// internal/syncengine, reduced to the static-hierarchy case.
package foldersync

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/goeas/internal/eas"
	"github.com/opd-ai/goeas/internal/wbxml"
)

// Status mirrors the WBXML <Status> values this handler can emit.
const (
	statusSuccess Status = 1
	statusInvalid Status = 8
)

// Status is a FolderSync response status code.
type Status int

// systemFolder is one entry in the fixed hierarchy (spec §4.8).
type systemFolder struct {
	serverID string
	name     string
	typ      int64
}

var systemFolders = []systemFolder{
	{"2", "Inbox", 2},
	{"3", "Drafts", 3},
	{"4", "Deleted Items", 4},
	{"5", "Sent Items", 5},
	{"6", "Outbox", 6},
	{"8", "Calendar", 8},
	{"9", "Contacts", 9},
}

type hierarchyKey struct {
	user     string
	deviceID string
}

// Store holds the per-(user, device) hierarchy sync key. It is
// separate from CollectionState per spec §3.
type Store struct {
	mu   sync.Mutex
	keys map[hierarchyKey]string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{keys: make(map[hierarchyKey]string)}
}

func (s *Store) current(k hierarchyKey) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[k]
	if !ok {
		return "0"
	}
	return key
}

func (s *Store) advanceToOne(k hierarchyKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k] = "1"
}

// Handler resolves FolderSync requests.
type Handler struct {
	Store *Store
	Log   *logrus.Logger
}

// New returns a Handler. log may be nil.
func New(store *Store, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{Store: store, Log: log}
}

// Resolve implements the key-progression rules: client_key == "0"
// emits the full hierarchy and sets the server key to "1"; a matching
// key emits an empty Changes block; any other key is a mismatch and
// forces a reset via Status=8.
func (h *Handler) Resolve(user, deviceID string, req *eas.FolderSyncRequest) []byte {
	k := hierarchyKey{user, deviceID}
	serverKey := h.Store.current(k)

	switch {
	case req.ClientKey == "0":
		h.Store.advanceToOne(k)
		return encodeFolderSync("1", statusSuccess, systemFolders)

	case req.ClientKey == serverKey:
		return encodeFolderSync(serverKey, statusSuccess, nil)

	default:
		h.Log.WithFields(logrus.Fields{"user": user, "device_id": deviceID, "client_key": req.ClientKey, "server_key": serverKey}).
			Warn("foldersync: key mismatch, forcing reset")
		return encodeFolderSync("0", statusInvalid, nil)
	}
}

func encodeFolderSync(syncKey string, status Status, changes []systemFolder) []byte {
	w := wbxml.NewWriter()
	w.Start(wbxml.CPFolderHierarchy, "FolderSync", true)
	w.ElemInt(wbxml.CPFolderHierarchy, "Status", int64(status))
	w.Elem(wbxml.CPFolderHierarchy, "SyncKey", syncKey)
	w.Start(wbxml.CPFolderHierarchy, "Changes", true)
	w.ElemInt(wbxml.CPFolderHierarchy, "Count", int64(len(changes)))
	for _, f := range changes {
		w.Start(wbxml.CPFolderHierarchy, "Add", true)
		w.Elem(wbxml.CPFolderHierarchy, "ServerId", f.serverID)
		w.Elem(wbxml.CPFolderHierarchy, "ParentId", "0")
		w.Elem(wbxml.CPFolderHierarchy, "DisplayName", f.name)
		w.ElemInt(wbxml.CPFolderHierarchy, "Type", f.typ)
		w.End() // Add
	}
	w.End() // Changes
	w.End() // FolderSync
	return w.Bytes()
}
