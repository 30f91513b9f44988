package models

// Settings is external, read-only configuration consumed by the core. It is
// re-read from the store on every decision that needs it.
type Settings struct {
	AutoAcceptRequests        bool    `db:"auto_accept_requests" json:"auto_accept_requests"`
	RatePerKg                 float64 `db:"rate_per_kg" json:"rate_per_kg"`
	RoomArrivalTimeoutMinutes int     `db:"room_arrival_timeout_minutes" json:"room_arrival_timeout_minutes"`
}

// DefaultSettings are used when no settings row exists yet.
func DefaultSettings() Settings {
	return Settings{
		AutoAcceptRequests:        true,
		RatePerKg:                 25,
		RoomArrivalTimeoutMinutes: 5,
	}
}
