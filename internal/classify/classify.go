// Package classify maps vendor device type strings onto the closed category
// set used for notification routing.
package classify

import (
	"strings"

	"github.com/tubone24/switchbot-hub/internal/model"
)

// SwitchBot device types that report security-relevant state.
var securityTypes = map[string]struct{}{
	"Contact Sensor": {},
	"Motion Sensor":  {},
	"Smart Lock":     {},
	"Smart Lock Pro": {},
	"Video Doorbell": {},
	"Keypad":         {},
	"Keypad Touch":   {},
	"Water Detector": {},
}

// SwitchBot device types that report atmosphere metrics.
var meterTypes = map[string]struct{}{
	"Meter":         {},
	"MeterPlus":     {},
	"MeterPro":      {},
	"MeterPro(CO2)": {},
	"WoIOSensor":    {},
	"Hub 2":         {},
}

// Netatmo module type codes map 1:1 onto categories.
var netatmoTypes = map[string]model.Category{
	"NAMain":    model.CategoryAtmosphereIndoor,
	"NAModule1": model.CategoryAtmosphereOutdoor,
	"NAModule2": model.CategoryWind,
	"NAModule3": model.CategoryRain,
	"NAModule4": model.CategoryAtmosphereIndoor,
}

// outdoorKeywords mark a SwitchBot meter as outdoor by display-name match.
// SwitchBot has no outdoor flag, so this is a heuristic: users name their
// outdoor meters with these words (or own the water-resistant WoIOSensor,
// which is matched by type below).
var outdoorKeywords = []string{"outdoor", "屋外", "防水"}

// Classify maps a device type (and display name, for the indoor/outdoor
// heuristic) onto a Category. Unknown types map to CategoryOther; callers
// persist those but do not route notifications for them.
func Classify(deviceType, deviceName string) model.Category {
	if c, ok := netatmoTypes[deviceType]; ok {
		return c
	}
	if _, ok := securityTypes[deviceType]; ok {
		return model.CategorySecurity
	}
	if _, ok := meterTypes[deviceType]; ok {
		if isOutdoorName(deviceName) || deviceType == "WoIOSensor" {
			return model.CategoryAtmosphereOutdoor
		}
		return model.CategoryAtmosphereIndoor
	}
	return model.CategoryOther
}

func isOutdoorName(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range outdoorKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Channel returns the notification channel key for a category's state-change
// messages. CategoryOther has no channel; the empty string means "do not
// notify".
func Channel(c model.Category) string {
	switch c {
	case model.CategorySecurity:
		return model.ChannelSecurity
	case model.CategoryAtmosphereIndoor, model.CategoryAtmosphereOutdoor,
		model.CategoryWind, model.CategoryRain:
		return model.ChannelAtmosphere
	default:
		return ""
	}
}
