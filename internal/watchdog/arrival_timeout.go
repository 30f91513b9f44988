package watchdog

import (
	"fmt"
	"log"
	"time"

	"github.com/lavenderblue2/laundry-robot-sub001/internal/db"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/services"
)

// ArrivalTimeout cancels requests whose customer never showed up at the
// robot. A plain pickup times out to Cancelled (the robot drives itself
// home); a finished-wash delivery aborts back to base with the laundry
// still aboard.
type ArrivalTimeout struct {
	requestRepo  db.RequestRepository
	settingsRepo db.SettingsRepository
	lifecycle    *services.RequestService
}

// NewArrivalTimeout creates the arrival timeout watchdog.
func NewArrivalTimeout(requestRepo db.RequestRepository, settingsRepo db.SettingsRepository, lifecycle *services.RequestService) *ArrivalTimeout {
	return &ArrivalTimeout{
		requestRepo:  requestRepo,
		settingsRepo: settingsRepo,
		lifecycle:    lifecycle,
	}
}

// Sweep runs one timeout cycle. A failure on one request never blocks the
// rest of the sweep.
func (w *ArrivalTimeout) Sweep() {
	settings, err := w.settingsRepo.GetSettings()
	if err != nil {
		log.Printf("Arrival timeout: failed to read settings, using defaults: %v", err)
		settings = models.DefaultSettings()
	}

	timeout := time.Duration(settings.RoomArrivalTimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	cutoff := time.Now().Add(-timeout)

	requests, err := w.requestRepo.GetArrivalTimedOut(cutoff)
	if err != nil {
		log.Printf("Arrival timeout: failed to query timed-out requests: %v", err)
		return
	}

	for _, req := range requests {
		if err := w.processOne(req, timeout); err != nil {
			log.Printf("Arrival timeout: failed to process request %s: %v", req.ID, err)
		}
	}
}

func (w *ArrivalTimeout) processOne(req *models.LaundryRequest, timeout time.Duration) error {
	switch req.Status {
	case models.StatusArrivedAtRoom:
		reason := fmt.Sprintf("cancelled automatically: no load confirmation within %v of arrival", timeout)
		// The robot keeps its assignment; it still has to drive home.
		if err := w.lifecycle.ForceCancel(req, reason, true); err != nil {
			return err
		}
		log.Printf("Arrival timeout: request %s cancelled (arrived %v)", req.ID, req.ArrivedAtRoomAt)
		return nil

	case models.StatusFinishedWashingArrivedAtRoom:
		if err := w.lifecycle.AbortDelivery(req); err != nil {
			return err
		}
		log.Printf("Arrival timeout: request %s delivery aborted, robot returning to base", req.ID)
		return nil

	default:
		// Status moved between the query and now; nothing to do.
		return nil
	}
}
