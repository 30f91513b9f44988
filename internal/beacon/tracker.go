package beacon

import (
	"math"
	"strings"
	"time"

	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
)

// Aging thresholds for beacon records. A beacon unseen past LostAfter is
// still actionable but flagged; past TimeoutAfter it must not steer
// navigation; past EvictAfter the record is dropped entirely.
const (
	LostAfter    = 10 * time.Second
	TimeoutAfter = 20 * time.Second
	EvictAfter   = 30 * time.Second
)

// Log-distance path-loss model parameters: measured power at one meter and
// path-loss exponent for indoor line-of-sight.
const (
	referencePowerDbm = -59
	pathLossExponent  = 2.0
)

// Report is a raw beacon sighting from one robot telemetry cycle.
type Report struct {
	MACAddress     string `json:"mac_address"`
	BeaconName     string `json:"beacon_name"`
	RoomName       string `json:"room_name"`
	RSSI           int    `json:"rssi"`
	InRangeRSSI    int    `json:"in_range_rssi"` // threshold carried by the reporting robot
}

// NormalizeMAC folds a MAC address to the canonical lower-case colon form.
func NormalizeMAC(mac string) string {
	mac = strings.ToLower(strings.TrimSpace(mac))
	return strings.ReplaceAll(mac, "-", ":")
}

// DistanceMeters estimates distance from RSSI using the log-distance
// path-loss model: 10^((refPower - rssi) / (10 * n)).
func DistanceMeters(rssi int) float64 {
	return math.Pow(10, float64(referencePowerDbm-rssi)/(10*pathLossExponent))
}

// Apply upserts one sighting into a robot's beacon map. New sightings start
// the detection count at one; repeats update the running RSSI mean
// incrementally.
func Apply(beacons map[string]*models.DetectedBeacon, report Report, now time.Time) *models.DetectedBeacon {
	mac := NormalizeMAC(report.MACAddress)

	b, exists := beacons[mac]
	if !exists {
		b = &models.DetectedBeacon{
			MACAddress:     mac,
			BeaconName:     report.BeaconName,
			RoomName:       report.RoomName,
			FirstDetected:  now,
			DetectionCount: 0,
			AverageRSSI:    0,
		}
		beacons[mac] = b
	}

	b.BeaconName = report.BeaconName
	b.RoomName = report.RoomName
	b.CurrentRSSI = report.RSSI
	b.DistanceMeters = DistanceMeters(report.RSSI)
	b.IsInRange = report.RSSI >= report.InRangeRSSI
	b.LastDetected = now
	b.Status = models.BeaconStatusActive

	b.DetectionCount++
	n := float64(b.DetectionCount)
	b.AverageRSSI = (b.AverageRSSI*(n-1) + float64(report.RSSI)) / n

	return b
}

// Sweep ages every record in a robot's beacon map against now. It runs on
// every telemetry cycle regardless of how many beacons were reported, so
// records decay even with zero sightings. Safe to call repeatedly.
func Sweep(beacons map[string]*models.DetectedBeacon, now time.Time) {
	for mac, b := range beacons {
		age := now.Sub(b.LastDetected)
		switch {
		case age > EvictAfter:
			delete(beacons, mac)
		case age > TimeoutAfter:
			b.Status = models.BeaconStatusTimeout
			b.IsInRange = false
		case age > LostAfter:
			b.Status = models.BeaconStatusLost
		}
	}
}

// Nearest returns the closest in-range active beacon, or nil when the robot
// has no usable proximity signal.
func Nearest(beacons map[string]*models.DetectedBeacon) *models.DetectedBeacon {
	var nearest *models.DetectedBeacon
	for _, b := range beacons {
		if !b.IsInRange || b.Status == models.BeaconStatusTimeout {
			continue
		}
		if nearest == nil || b.DistanceMeters < nearest.DistanceMeters {
			nearest = b
		}
	}
	return nearest
}
