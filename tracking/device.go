package tracking

import (
	"strings"

	"salonsite/api/models"
)

// The mobile set is checked first and contains "ipad", so iPads classify as
// mobile. The tablet set only catches agents that say "tablet" without any
// mobile marker.
var (
	mobileMarkers = []string{"mobile", "android", "iphone", "ipad", "ipod"}
	tabletMarkers = []string{"tablet", "ipad"}
)

// ClassifyDevice maps a raw User-Agent to mobile, tablet or desktop. An empty
// agent yields nil.
func ClassifyDevice(userAgent string) *string {
	if userAgent == "" {
		return nil
	}

	ua := strings.ToLower(userAgent)
	device := models.DeviceDesktop
	switch {
	case containsAny(ua, mobileMarkers):
		device = models.DeviceMobile
	case containsAny(ua, tabletMarkers):
		device = models.DeviceTablet
	}
	return &device
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
