package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubone24/switchbot-hub/internal/model"
)

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "AABBCCDDEEFF", NormalizeMAC("aa:bb:cc:dd:ee:ff"))
	assert.Equal(t, "AABBCCDDEEFF", NormalizeMAC("AA-BB-CC-DD-EE-FF"))
	assert.Equal(t, "AABBCCDDEEFF", NormalizeMAC("aabb.ccdd.eeff"))
	assert.Equal(t, "AABBCCDDEEFF", NormalizeMAC(" AABBCCDDEEFF "))
	assert.Equal(t, "", NormalizeMAC(""))
}

func TestResolveMAC(t *testing.T) {
	r := New()
	r.Update(model.DeviceState{DeviceID: "AABBCCDDEEFF", DeviceName: "Front Door"})

	for _, mac := range []string{
		"AA:BB:CC:DD:EE:FF",
		"aa:bb:cc:dd:ee:ff",
		"AA-BB-CC-DD-EE-FF",
		"AABBCCDDEEFF",
	} {
		id, ok := r.ResolveMAC(mac)
		require.True(t, ok, mac)
		assert.Equal(t, "AABBCCDDEEFF", id)
	}
}

func TestResolveMACSubstring(t *testing.T) {
	// Some vendor IDs embed the MAC inside a longer opaque string.
	r := New()
	r.Update(model.DeviceState{DeviceID: "01-AABBCCDDEEFF-suffix", DeviceName: "Meter"})

	id, ok := r.ResolveMAC("AA:BB:CC:DD:EE:FF")
	require.True(t, ok)
	assert.Equal(t, "01-AABBCCDDEEFF-suffix", id)
}

func TestResolveMACUnknown(t *testing.T) {
	r := New()
	r.Update(model.DeviceState{DeviceID: "AABBCCDDEEFF"})

	_, ok := r.ResolveMAC("11:22:33:44:55:66")
	assert.False(t, ok)

	_, ok = r.ResolveMAC("")
	assert.False(t, ok)
}

func TestSnapshotOrdering(t *testing.T) {
	r := New()
	r.Update(model.DeviceState{DeviceID: "b", DeviceName: "Zebra"})
	r.Update(model.DeviceState{DeviceID: "a", DeviceName: "Alpha"})
	r.Update(model.DeviceState{DeviceID: "c", DeviceName: "Alpha"})

	states := r.Snapshot()
	require.Len(t, states, 3)
	assert.Equal(t, "a", states[0].DeviceID, "name then ID")
	assert.Equal(t, "c", states[1].DeviceID)
	assert.Equal(t, "b", states[2].DeviceID)
}

func TestLoadSeedsAndUpdateOverrides(t *testing.T) {
	r := New()
	r.Load([]model.DeviceState{{DeviceID: "dev1", DeviceName: "Old name"}})

	st, ok := r.Get("dev1")
	require.True(t, ok)
	assert.Equal(t, "Old name", st.DeviceName)

	r.Update(model.DeviceState{DeviceID: "dev1", DeviceName: "New name"})
	st, _ = r.Get("dev1")
	assert.Equal(t, "New name", st.DeviceName)
}

func TestLastPolls(t *testing.T) {
	r := New()
	now := time.Now()
	r.SetLastPoll("switchbot", now)

	polls := r.LastPolls()
	require.Len(t, polls, 1)
	assert.Equal(t, now, polls["switchbot"])
}
