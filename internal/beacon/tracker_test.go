package beacon

import (
	"math"
	"testing"
	"time"

	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
)

func report(mac string, rssi int) Report {
	return Report{
		MACAddress:  mac,
		BeaconName:  "beacon-1",
		RoomName:    "Room-101",
		RSSI:        rssi,
		InRangeRSSI: -70,
	}
}

func TestNormalizeMAC(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff"},
		{"aa-bb-cc-dd-ee-ff", "aa:bb:cc:dd:ee:ff"},
		{"  aa:bb:cc:dd:ee:ff  ", "aa:bb:cc:dd:ee:ff"},
	}
	for _, c := range cases {
		if got := NormalizeMAC(c.in); got != c.want {
			t.Errorf("NormalizeMAC(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDistanceMeters(t *testing.T) {
	// At the reference power the estimate is exactly one meter; twenty dB
	// below it is ten meters under a path-loss exponent of two.
	if got := DistanceMeters(-59); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("DistanceMeters(-59) = %v, want 1.0", got)
	}
	if got := DistanceMeters(-79); math.Abs(got-10.0) > 1e-9 {
		t.Errorf("DistanceMeters(-79) = %v, want 10.0", got)
	}
	if DistanceMeters(-60) >= DistanceMeters(-80) {
		t.Error("weaker signal should resolve to a larger distance")
	}
}

func TestApplyRunningAverage(t *testing.T) {
	beacons := make(map[string]*models.DetectedBeacon)
	now := time.Now()

	Apply(beacons, report("AA:BB:CC:DD:EE:01", -60), now)
	Apply(beacons, report("aa-bb-cc-dd-ee-01", -70), now.Add(time.Second))
	b := Apply(beacons, report("aa:bb:cc:dd:ee:01", -80), now.Add(2*time.Second))

	// All three spellings fold to one record.
	if len(beacons) != 1 {
		t.Fatalf("expected 1 beacon record, got %d", len(beacons))
	}
	if b.DetectionCount != 3 {
		t.Errorf("DetectionCount = %d, want 3", b.DetectionCount)
	}
	if math.Abs(b.AverageRSSI-(-70)) > 1e-9 {
		t.Errorf("AverageRSSI = %v, want -70", b.AverageRSSI)
	}
	if b.CurrentRSSI != -80 {
		t.Errorf("CurrentRSSI = %d, want -80", b.CurrentRSSI)
	}
	if b.Status != models.BeaconStatusActive {
		t.Errorf("Status = %s, want %s", b.Status, models.BeaconStatusActive)
	}
}

func TestApplyInRangeThreshold(t *testing.T) {
	beacons := make(map[string]*models.DetectedBeacon)
	now := time.Now()

	strong := Apply(beacons, report("aa:bb:cc:dd:ee:01", -65), now)
	if !strong.IsInRange {
		t.Error("RSSI above the threshold should be in range")
	}

	weak := Apply(beacons, report("aa:bb:cc:dd:ee:02", -85), now)
	if weak.IsInRange {
		t.Error("RSSI below the threshold should be out of range")
	}
}

func TestSweepAging(t *testing.T) {
	now := time.Now()
	beacons := make(map[string]*models.DetectedBeacon)

	Apply(beacons, report("aa:bb:cc:dd:ee:01", -60), now.Add(-9*time.Second))
	Apply(beacons, report("aa:bb:cc:dd:ee:02", -60), now.Add(-15*time.Second))
	Apply(beacons, report("aa:bb:cc:dd:ee:03", -60), now.Add(-25*time.Second))
	Apply(beacons, report("aa:bb:cc:dd:ee:04", -60), now.Add(-35*time.Second))

	Sweep(beacons, now)

	if len(beacons) != 3 {
		t.Fatalf("expected the 35s-old record evicted, have %d records", len(beacons))
	}

	if b := beacons["aa:bb:cc:dd:ee:01"]; b.Status != models.BeaconStatusActive {
		t.Errorf("9s old: Status = %s, want %s", b.Status, models.BeaconStatusActive)
	}
	if b := beacons["aa:bb:cc:dd:ee:02"]; b.Status != models.BeaconStatusLost {
		t.Errorf("15s old: Status = %s, want %s", b.Status, models.BeaconStatusLost)
	}

	stale := beacons["aa:bb:cc:dd:ee:03"]
	if stale.Status != models.BeaconStatusTimeout {
		t.Errorf("25s old: Status = %s, want %s", stale.Status, models.BeaconStatusTimeout)
	}
	if stale.IsInRange {
		t.Error("timed-out beacon must not remain in range")
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	now := time.Now()
	beacons := make(map[string]*models.DetectedBeacon)
	Apply(beacons, report("aa:bb:cc:dd:ee:01", -60), now.Add(-15*time.Second))

	Sweep(beacons, now)
	Sweep(beacons, now)

	if b := beacons["aa:bb:cc:dd:ee:01"]; b.Status != models.BeaconStatusLost {
		t.Errorf("double sweep changed the outcome: Status = %s", b.Status)
	}
}

func TestNearest(t *testing.T) {
	now := time.Now()
	beacons := make(map[string]*models.DetectedBeacon)

	far := report("aa:bb:cc:dd:ee:01", -69)
	far.RoomName = "Room-101"
	Apply(beacons, far, now)

	near := report("aa:bb:cc:dd:ee:02", -61)
	near.RoomName = "Room-102"
	Apply(beacons, near, now)

	// Strongest of all, but out of range: never wins.
	outOfRange := report("aa:bb:cc:dd:ee:03", -60)
	outOfRange.RoomName = "Room-103"
	outOfRange.InRangeRSSI = -50
	Apply(beacons, outOfRange, now)

	got := Nearest(beacons)
	if got == nil {
		t.Fatal("expected a nearest beacon")
	}
	if got.RoomName != "Room-102" {
		t.Errorf("Nearest room = %s, want Room-102", got.RoomName)
	}
}

func TestNearestIgnoresTimedOut(t *testing.T) {
	now := time.Now()
	beacons := make(map[string]*models.DetectedBeacon)
	Apply(beacons, report("aa:bb:cc:dd:ee:01", -60), now.Add(-25*time.Second))
	Sweep(beacons, now)

	if got := Nearest(beacons); got != nil {
		t.Errorf("expected no nearest beacon, got %s", got.MACAddress)
	}
}

func TestNearestEmpty(t *testing.T) {
	if got := Nearest(map[string]*models.DetectedBeacon{}); got != nil {
		t.Errorf("expected nil for empty map, got %v", got)
	}
}
