package models

import "time"

// RobotStatus represents the current dispatch status of a robot
type RobotStatus string

const (
	RobotStatusAvailable RobotStatus = "available"
	RobotStatusBusy      RobotStatus = "busy"
)

// BeaconStatus classifies how fresh a beacon sighting is
type BeaconStatus string

const (
	BeaconStatusActive  BeaconStatus = "active"
	BeaconStatusLost    BeaconStatus = "lost"    // unseen for a moment, still actionable
	BeaconStatusTimeout BeaconStatus = "timeout" // stale, must not steer navigation
)

// DetectedBeacon is one Bluetooth beacon as seen by a single robot.
type DetectedBeacon struct {
	MACAddress     string       `json:"mac_address"`
	BeaconName     string       `json:"beacon_name"`
	RoomName       string       `json:"room_name"`
	CurrentRSSI    int          `json:"current_rssi"`
	DistanceMeters float64      `json:"distance_meters"`
	IsInRange      bool         `json:"is_in_range"`
	FirstDetected  time.Time    `json:"first_detected"`
	LastDetected   time.Time    `json:"last_detected"`
	DetectionCount int          `json:"detection_count"`
	AverageRSSI    float64      `json:"average_rssi"`
	Status         BeaconStatus `json:"status"`
}

// Robot is the live, in-memory state of one fleet member.
type Robot struct {
	Name              string                     `json:"name"`
	IPAddress         string                     `json:"ip_address"`
	ConnectedAt       time.Time                  `json:"connected_at"`
	LastPing          time.Time                  `json:"last_ping"`
	IsActive          bool                       `json:"is_active"`
	CanAcceptRequests bool                       `json:"can_accept_requests"`
	Status            RobotStatus                `json:"status"`
	CurrentTask       string                     `json:"current_task"`
	CurrentLocation   string                     `json:"current_location"`
	IsFollowingLine   bool                       `json:"is_following_line"`
	FollowColor       [3]byte                    `json:"follow_color"`
	Beacons           map[string]*DetectedBeacon `json:"beacons"`

	// Latest raw camera frame metadata, kept out of JSON payloads.
	LastCameraData string `json:"-"`

	// Host stats pushed with heartbeats, informational only.
	UptimeSeconds uint64  `json:"uptime_seconds"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	CPUPercent    float64 `json:"cpu_percent"`
}

// RobotWithStatus is the admin-facing view combining live robot state with
// the registry-derived offline flag.
type RobotWithStatus struct {
	Robot
	IsOffline bool `json:"is_offline"`
}

// RobotStatusChangedEvent is published by the registry when a robot flips
// between available and busy, or appears/disappears.
type RobotStatusChangedEvent struct {
	RobotName      string
	PreviousStatus string
	CurrentStatus  string
}

// RobotState is the durable checkpoint row for a robot, written on
// line-following toggles and read back at startup for recovery context.
type RobotState struct {
	RobotName        string    `db:"robot_name" json:"robot_name"`
	IPAddress        string    `db:"ip_address" json:"ip_address"`
	IsFollowingLine  bool      `db:"is_following_line" json:"is_following_line"`
	FollowColorR     int       `db:"follow_color_r" json:"follow_color_r"`
	FollowColorG     int       `db:"follow_color_g" json:"follow_color_g"`
	FollowColorB     int       `db:"follow_color_b" json:"follow_color_b"`
	NearestBeaconMAC string    `db:"nearest_beacon_mac" json:"nearest_beacon_mac"`
	NearestRoom      string    `db:"nearest_room" json:"nearest_room"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
