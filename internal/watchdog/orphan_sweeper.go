package watchdog

import (
	"fmt"
	"log"
	"time"

	"github.com/lavenderblue2/laundry-robot-sub001/internal/db"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/services"
)

// OrphanAge is how old an assigned request must be before the sweeper will
// consider it orphaned.
const OrphanAge = 30 * time.Minute

// Fleet is the slice of the robot registry the sweeper needs.
type Fleet interface {
	Get(name string) (*models.Robot, bool)
	IsOffline(name string) bool
}

// OrphanSweeper garbage-collects requests left inconsistent by crashes,
// force-stops or robot replacement. It never touches healthy in-flight
// requests.
type OrphanSweeper struct {
	requestRepo db.RequestRepository
	fleet       Fleet
	lifecycle   *services.RequestService
}

// NewOrphanSweeper creates the orphan reconciliation sweeper.
func NewOrphanSweeper(requestRepo db.RequestRepository, fleet Fleet, lifecycle *services.RequestService) *OrphanSweeper {
	return &OrphanSweeper{
		requestRepo: requestRepo,
		fleet:       fleet,
		lifecycle:   lifecycle,
	}
}

// Sweep runs one reconciliation cycle. A failure on one request never
// blocks the rest of the sweep.
func (w *OrphanSweeper) Sweep() {
	cutoff := time.Now().Add(-OrphanAge)

	candidates, err := w.requestRepo.GetOrphanCandidates(cutoff)
	if err != nil {
		log.Printf("Orphan sweeper: failed to query candidates: %v", err)
		return
	}

	for _, req := range candidates {
		if err := w.processOne(req); err != nil {
			log.Printf("Orphan sweeper: failed to process request %s: %v", req.ID, err)
		}
	}
}

func (w *OrphanSweeper) processOne(req *models.LaundryRequest) error {
	if req.AssignedRobotName == nil {
		return nil
	}
	robotName := *req.AssignedRobotName
	orphanedFor := time.Since(req.RequestedAt).Round(time.Minute)

	robot, exists := w.fleet.Get(robotName)

	var reason string
	switch {
	case !exists:
		reason = fmt.Sprintf("cancelled by reconciliation: assigned robot %q no longer registered (request stuck for %v)",
			robotName, orphanedFor)

	case w.fleet.IsOffline(robotName):
		reason = fmt.Sprintf("cancelled by reconciliation: assigned robot %q offline (request stuck for %v)",
			robotName, orphanedFor)

	case robot.Status == models.RobotStatusAvailable && robot.CurrentTask == "" && !inNavigation(req.Status):
		// An idle robot with no task cannot be working this request. The
		// navigation statuses are exempt: a freshly restarted robot may
		// not have reported its task yet.
		reason = fmt.Sprintf("cancelled by reconciliation: assigned robot %q idle with no task (request stuck for %v)",
			robotName, orphanedFor)

	default:
		return nil
	}

	if err := w.lifecycle.ForceCancel(req, reason, true); err != nil {
		return err
	}
	log.Printf("Orphan sweeper: request %s cancelled: %s", req.ID, reason)
	return nil
}

func inNavigation(status models.RequestStatus) bool {
	for _, s := range models.NavigationStatuses {
		if s == status {
			return true
		}
	}
	return false
}
