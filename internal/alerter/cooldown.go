package alerter

import (
	"sync"
	"time"

	"github.com/tubone24/switchbot-hub/internal/model"
)

// Cooldowns throttles repeat alerts per rule family and device.
type Cooldowns interface {
	// Ready reports whether the bucket may fire at now.
	Ready(alertType model.AlertType, deviceID string, now time.Time) bool
	// Stamp marks the bucket as fired at now.
	Stamp(alertType model.AlertType, deviceID string, now time.Time)
}

type cooldownKey struct {
	AlertType model.AlertType
	DeviceID  string
}

// memoryCooldowns tracks last-fired times in memory. A restart clears them,
// which at worst repeats one alert early.
type memoryCooldowns struct {
	mu     sync.Mutex
	period time.Duration
	fired  map[cooldownKey]time.Time
}

// NewCooldowns returns an in-memory cooldown tracker with the given period.
func NewCooldowns(period time.Duration) Cooldowns {
	return &memoryCooldowns{
		period: period,
		fired:  make(map[cooldownKey]time.Time),
	}
}

func (c *memoryCooldowns) Ready(alertType model.AlertType, deviceID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.fired[cooldownKey{alertType, deviceID}]
	if !ok {
		return true
	}
	return now.Sub(last) >= c.period
}

func (c *memoryCooldowns) Stamp(alertType model.AlertType, deviceID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fired[cooldownKey{alertType, deviceID}] = now
}
