// Package registry is a thread-safe in-memory view of the latest device
// states, shared between the polling loops, the webhook listener, and the
// status API.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tubone24/switchbot-hub/internal/model"
)

// Registry holds the last known state per device plus per-collector poll
// times. It is seeded from the store at startup and updated on every
// ingested reading.
type Registry struct {
	mu       sync.RWMutex
	devices  map[string]model.DeviceState
	lastPoll map[string]time.Time
}

// New returns an initialized Registry.
func New() *Registry {
	return &Registry{
		devices:  make(map[string]model.DeviceState),
		lastPoll: make(map[string]time.Time),
	}
}

// Load seeds the registry with states read from the store.
func (r *Registry) Load(states []model.DeviceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range states {
		r.devices[st.DeviceID] = st
	}
}

// Update records the latest state for a device.
func (r *Registry) Update(st model.DeviceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[st.DeviceID] = st
}

// Get returns the last known state for a device.
func (r *Registry) Get(deviceID string) (model.DeviceState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.devices[deviceID]
	return st, ok
}

// Snapshot returns a copy of all known device states, ordered by name.
func (r *Registry) Snapshot() []model.DeviceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make([]model.DeviceState, 0, len(r.devices))
	for _, st := range r.devices {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].DeviceName == states[j].DeviceName {
			return states[i].DeviceID < states[j].DeviceID
		}
		return states[i].DeviceName < states[j].DeviceName
	})
	return states
}

// ResolveMAC maps a MAC-address-shaped webhook identifier onto a known
// device ID. The vendor inconsistently embeds the MAC inside a longer
// opaque ID, so the MAC is normalized (separators stripped, uppercased) and
// matched as a substring of each known ID's normalized form. Returns false
// when no known device matches.
func (r *Registry) ResolveMAC(mac string) (string, bool) {
	norm := NormalizeMAC(mac)
	if norm == "" {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.devices {
		if strings.Contains(NormalizeMAC(id), norm) {
			return id, true
		}
	}
	return "", false
}

// NormalizeMAC strips common MAC separators and uppercases the rest.
func NormalizeMAC(mac string) string {
	replaced := strings.NewReplacer(":", "", "-", "", ".", "").Replace(mac)
	return strings.ToUpper(strings.TrimSpace(replaced))
}

// SetLastPoll records the last successful poll time for a collector.
func (r *Registry) SetLastPoll(collectorID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPoll[collectorID] = t
}

// LastPolls returns a copy of the per-collector poll times.
func (r *Registry) LastPolls() map[string]time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	polls := make(map[string]time.Time, len(r.lastPoll))
	for k, v := range r.lastPoll {
		polls[k] = v
	}
	return polls
}
