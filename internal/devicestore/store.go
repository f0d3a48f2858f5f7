// Package devicestore holds DeviceRecord state: per (user, device_id)
// provisioning status and policy key (spec §3). Unlike CollectionState
// this is small, rarely-written state, so a single mutex-guarded map is
// enough — no sharding needed.
package devicestore

import (
	"sync"

	"github.com/opd-ai/goeas/internal/eas"
)

type key struct {
	user     string
	deviceID string
}

// Store is a concurrency-safe table of DeviceRecord.
type Store struct {
	mu      sync.Mutex
	records map[key]*eas.DeviceRecord
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[key]*eas.DeviceRecord)}
}

// GetOrCreate returns the DeviceRecord for (user, deviceID), creating
// an unprovisioned one (PolicyKey "0") on first access.
func (s *Store) GetOrCreate(user, deviceID, deviceType string) eas.DeviceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{user, deviceID}
	r, ok := s.records[k]
	if !ok {
		r = &eas.DeviceRecord{User: user, DeviceID: deviceID, DeviceType: deviceType, PolicyKey: "0"}
		s.records[k] = r
	}
	if deviceType != "" {
		r.DeviceType = deviceType
	}
	return *r
}

// MarkProvisioned flips is_provisioned and sets the final policy key,
// atomically with whatever caller is about to send the Phase 2
// response (spec §4.6).
func (s *Store) MarkProvisioned(user, deviceID, policyKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{user, deviceID}
	r, ok := s.records[k]
	if !ok {
		r = &eas.DeviceRecord{User: user, DeviceID: deviceID}
		s.records[k] = r
	}
	r.IsProvisioned = true
	r.PolicyKey = policyKey
}
