// Package mailstore provides reference in-memory implementations of
// internal/eas's MailStore, AuthService, and Clock collaborator
// interfaces, used by cmd/easserver and by integration tests in place
// of a real mailbox backend.
//
// The shape mirrors the teacher's small, explicit in-package fakes
// (async/mock_transport.go, async/nil_transport_test.go) rather than a
// generated-mock library: no mocking framework appears anywhere in the
// example pack.
package mailstore

import (
	"context"
	"encoding/base64"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/goeas/internal/eas"
)

// Store is an in-memory MailStore keyed by user and folder code. It is
// safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	folders map[folderKey][]eas.MailItem
	watches map[string][]*watch
}

type folderKey struct {
	user       string
	folderCode string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		folders: make(map[folderKey][]eas.MailItem),
		watches: make(map[string][]*watch),
	}
}

// Seed installs items into folderCode for user, sorted newest-first by
// ID to match ListFolder's documented ordering.
func (s *Store) Seed(user, folderCode string, items []eas.MailItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]eas.MailItem(nil), items...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].ID > cp[j].ID })
	s.folders[folderKey{user, folderCode}] = cp
}

// Deliver appends item to folderCode and wakes every Ping subscription
// user currently holds, whichever folders it names, reporting folderCode
// as the changed folder.
func (s *Store) Deliver(user, folderCode string, item eas.MailItem) {
	s.mu.Lock()
	k := folderKey{user, folderCode}
	s.folders[k] = append([]eas.MailItem{item}, s.folders[k]...)
	pending := s.watches[user]
	s.watches[user] = nil
	s.mu.Unlock()

	for _, w := range pending {
		w.notify(folderCode)
	}
}

// ListFolder implements eas.MailStore.
func (s *Store) ListFolder(ctx context.Context, user, folderCode string, limit int) ([]eas.MailItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.folders[folderKey{user, folderCode}]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return append([]eas.MailItem(nil), items...), nil
}

// GetItems implements eas.MailStore.
func (s *Store) GetItems(ctx context.Context, user string, ids []string) ([]eas.MailItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []eas.MailItem
	for _, items := range s.folders {
		for _, it := range items {
			if want[itemID(it)] {
				out = append(out, it)
			}
		}
	}
	return out, nil
}

func itemID(it eas.MailItem) string {
	return strconv.FormatInt(it.ID, 10)
}

// watch is a one-shot subscription handle: Changed fires at most once.
type watch struct {
	once    sync.Once
	changed chan []string
}

func (w *watch) Changed() <-chan []string { return w.changed }

func (w *watch) notify(folderCode string) {
	w.once.Do(func() { w.changed <- []string{folderCode} })
}

// Subscribe implements eas.MailStore. folderCodes is currently used only
// to label the watch; any folder change for user wakes it, matching the
// coarse per-user notification granularity spec §4.7 requires.
func (s *Store) Subscribe(user string, folderCodes []string) (eas.SubscriptionHandle, error) {
	if len(folderCodes) == 0 {
		return nil, errors.New("mailstore: subscribe requires at least one folder id")
	}
	w := &watch{changed: make(chan []string, 1)}
	s.mu.Lock()
	s.watches[user] = append(s.watches[user], w)
	s.mu.Unlock()
	return w, nil
}

// Unsubscribe implements eas.MailStore. Safe to call more than once.
func (s *Store) Unsubscribe(handle eas.SubscriptionHandle) {
	w, ok := handle.(*watch)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for user, watches := range s.watches {
		for i, cand := range watches {
			if cand == w {
				s.watches[user] = append(watches[:i], watches[i+1:]...)
				return
			}
		}
	}
}

// SystemClock is the production eas.Clock backed by the real wall
// clock and timer.Timer.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// StaticAuth authenticates any non-empty HTTP Basic token as its
// decoded username, with no password verification. It exists so
// cmd/easserver has a wireable AuthService without depending on a real
// identity provider; real deployments should replace it.
type StaticAuth struct{}

func (StaticAuth) Authenticate(ctx context.Context, basicToken string) (eas.User, error) {
	user, _, ok := decodeBasic(basicToken)
	if !ok || user == "" {
		return eas.User{}, errors.New("mailstore: invalid basic auth token")
	}
	return eas.User{Name: user}, nil
}

// decodeBasic decodes an HTTP "Authorization: Basic <token>" value's
// token portion (already stripped of the "Basic " prefix by the
// caller) into its username and password.
func decodeBasic(token string) (user, pass string, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
