// Package change decides whether a new reading differs materially from the
// previously stored state, and describes what changed.
package change

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tubone24/switchbot-hub/internal/model"
)

// volatileKeys carry no device state: internal device/hub identifiers,
// sample timestamps, unit echoes. The vendor includes different subsets in
// poll responses and webhook events, so they are stripped before comparison
// or an unchanged device would look changed on every poll/webhook
// alternation.
var volatileKeys = map[string]struct{}{
	"deviceId":     {},
	"deviceMac":    {},
	"deviceType":   {},
	"hubDeviceId":  {},
	"scale":        {},
	"timeOfSample": {},
	"version":      {},
}

// FieldChange describes one field-level difference between two statuses.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value,omitempty"`
	NewValue any    `json:"new_value,omitempty"`
	Message  string `json:"message"`
}

// HasChanged reports whether newStatus differs from oldStatus once volatile
// keys are stripped. A nil oldStatus (first-ever reading) always counts as
// changed. Comparison is by canonical JSON: encoding/json writes map keys in
// sorted order, so insertion order never matters.
func HasChanged(oldStatus, newStatus model.Status) bool {
	if oldStatus == nil {
		return true
	}
	return canonical(oldStatus) != canonical(newStatus)
}

// canonical serializes a status with volatile keys removed. Marshal on a
// string-keyed map cannot fail for JSON-decoded values; a non-serializable
// value would have been rejected at the ingest boundary already.
func canonical(s model.Status) string {
	filtered := make(map[string]any, len(s))
	for k, v := range s {
		if _, skip := volatileKeys[k]; skip {
			continue
		}
		filtered[k] = v
	}
	b, err := json.Marshal(filtered)
	if err != nil {
		return fmt.Sprintf("%v", filtered)
	}
	return string(b)
}

// Diff returns the field-level changes between two statuses. A nil oldStatus
// yields a single "new device" sentinel entry instead of per-field diffs.
// Volatile keys never appear in the result.
func Diff(oldStatus, newStatus model.Status) []FieldChange {
	if oldStatus == nil {
		return []FieldChange{{Field: "device", Message: "New device detected"}}
	}

	seen := make(map[string]struct{}, len(oldStatus)+len(newStatus))
	var keys []string
	for k := range oldStatus {
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for k := range newStatus {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var changes []FieldChange
	for _, k := range keys {
		if _, skip := volatileKeys[k]; skip {
			continue
		}
		oldVal, newVal := oldStatus[k], newStatus[k]
		if equalValue(oldVal, newVal) {
			continue
		}
		changes = append(changes, FieldChange{
			Field:    k,
			OldValue: oldVal,
			NewValue: newVal,
			Message:  fmt.Sprintf("%s: %v -> %v", k, oldVal, newVal),
		})
	}
	return changes
}

// equalValue compares two status values through their JSON form so that
// nested maps and slices compare by content.
func equalValue(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
	return string(ab) == string(bb)
}
