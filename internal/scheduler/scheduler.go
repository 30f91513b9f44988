package scheduler

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/commander"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/db"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/services"
)

// Fleet is the slice of the robot registry the scheduler needs.
type Fleet interface {
	ListAll() []*models.RobotWithStatus
	Get(name string) (*models.Robot, bool)
	AssignTask(name, task string) bool
	ClearTask(name string) bool
	SetLineFollowing(name string, following bool, color [3]byte, task string) bool
}

// Config holds scheduler dependencies.
type Config struct {
	RequestRepo  db.RequestRepository
	SettingsRepo db.SettingsRepository
	Fleet        Fleet
	Commander    commander.Commander
}

// Scheduler owns robot auto-assignment, preemption and the pending request
// queue. All assignment decisions are serialized under one mutex: the fleet
// is small and a wrong double-assignment costs far more than the lock.
type Scheduler struct {
	requestRepo  db.RequestRepository
	settingsRepo db.SettingsRepository
	fleet        Fleet
	commander    commander.Commander

	mu sync.Mutex
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(cfg Config) *Scheduler {
	return &Scheduler{
		requestRepo:  cfg.RequestRepo,
		settingsRepo: cfg.SettingsRepo,
		fleet:        cfg.Fleet,
		commander:    cfg.Commander,
	}
}

// CreateRequestInput carries the customer-facing creation payload.
type CreateRequestInput struct {
	CustomerID   string             `json:"customer_id"`
	CustomerName string             `json:"customer_name"`
	Phone        string             `json:"phone"`
	Address      string             `json:"address"`
	RoomName     string             `json:"room_name"`
	Type         models.RequestType `json:"request_type"`
}

// CreateRequest creates a new request and immediately attempts assignment.
// The request is created Accepted only when auto-accept is on and the whole
// fleet is idle; otherwise it queues as Pending, possibly pre-assigned.
func (s *Scheduler) CreateRequest(input CreateRequestInput) (*models.LaundryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.requestRepo.GetActiveByCustomer(input.CustomerID, models.ActiveForCustomer)
	if err != nil {
		return nil, fmt.Errorf("failed to check active requests: %w", err)
	}
	if existing != nil {
		return nil, services.ErrRequestAlreadyActive
	}

	reqType := input.Type
	if reqType == "" {
		reqType = models.RequestTypePickupAndDelivery
	}

	now := time.Now()
	req := &models.LaundryRequest{
		ID:           uuid.NewString(),
		CustomerID:   input.CustomerID,
		CustomerName: input.CustomerName,
		Phone:        input.Phone,
		Address:      input.Address,
		RoomName:     input.RoomName,
		Type:         reqType,
		Status:       models.StatusPending,
		RequestedAt:  now,
		UpdatedAt:    now,
	}

	// Assignment is always attempted, independent of auto-accept.
	robot := s.autoAssign()
	if robot != nil {
		req.AssignedRobotName = &robot.Name
	}

	accept := false
	if robot != nil {
		settings, serr := s.settingsRepo.GetSettings()
		if serr != nil {
			log.Printf("Failed to read settings, using defaults: %v", serr)
			settings = models.DefaultSettings()
		}
		if settings.AutoAcceptRequests {
			fleetBusy, berr := s.requestRepo.AnyInStatuses(models.FleetBusyStatuses)
			if berr != nil {
				return nil, fmt.Errorf("failed to check fleet load: %w", berr)
			}
			accept = !fleetBusy
		}
	}

	if accept {
		req.Status = models.StatusAccepted
		req.AcceptedAt = &now
	}

	if err := s.requestRepo.CreateRequest(req); err != nil {
		return nil, err
	}

	if accept {
		s.dispatchToRoom(req, robot)
		log.Printf("Request %s accepted on creation, robot %s en route to %s", req.ID, robot.Name, req.RoomName)
	} else if robot != nil {
		log.Printf("Request %s queued pending, robot %s pre-assigned", req.ID, robot.Name)
	} else {
		log.Printf("Request %s queued pending, no robot available", req.ID)
	}

	return req, nil
}

// ProcessNextPending promotes the oldest pending request once a robot is
// idle. It refuses while auto-accept is off or any robot fleet-wide is
// still mid-job: dispatch stays serialized across the whole fleet.
func (s *Scheduler) ProcessNextPending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.settingsRepo.GetSettings()
	if err != nil {
		log.Printf("Failed to read settings, skipping queue processing: %v", err)
		return
	}
	if !settings.AutoAcceptRequests {
		return
	}

	fleetBusy, err := s.requestRepo.AnyInStatuses(models.FleetBusyStatuses)
	if err != nil {
		log.Printf("Failed to check fleet load: %v", err)
		return
	}
	if fleetBusy {
		return
	}

	req, err := s.requestRepo.OldestPending()
	if err != nil {
		log.Printf("Failed to read pending queue: %v", err)
		return
	}
	if req == nil {
		return
	}

	robot := s.autoAssign()
	if robot == nil {
		return
	}

	now := time.Now()
	req.Status = models.StatusAccepted
	req.AssignedRobotName = &robot.Name
	req.AcceptedAt = &now

	ok, err := s.requestRepo.CompareAndUpdate(req, models.StatusPending)
	if err != nil {
		log.Printf("Failed to accept pending request %s: %v", req.ID, err)
		return
	}
	if !ok {
		// Lost a race with a cancel or decline; the next idle event will
		// pick up whatever is pending then.
		return
	}

	s.dispatchToRoom(req, robot)
	log.Printf("Pending request %s accepted, robot %s en route to %s", req.ID, robot.Name, req.RoomName)
}

// OnEvent makes the scheduler a registry observer: a robot turning
// available drives the pending queue.
func (s *Scheduler) OnEvent(event models.RobotStatusChangedEvent) {
	if event.CurrentStatus == string(models.RobotStatusAvailable) {
		s.ProcessNextPending()
	}
}

// autoAssign picks a robot for dispatch. Preference order: any available
// robot, else preempt the busy robot with the oldest last ping. Returns
// nil when no active, online robot exists. Caller holds s.mu.
func (s *Scheduler) autoAssign() *models.Robot {
	robots := s.fleet.ListAll()

	candidates := make([]*models.RobotWithStatus, 0, len(robots))
	for _, r := range robots {
		if r.IsActive && !r.IsOffline && r.CanAcceptRequests {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	for _, r := range candidates {
		if r.Status == models.RobotStatusAvailable {
			robot := r.Robot
			return &robot
		}
	}

	// Everyone is busy: preempt the robot that has gone longest without a
	// ping, a proxy for least recently (re)assigned.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastPing.Before(candidates[j].LastPing)
	})
	victim := candidates[0]

	s.preempt(&victim.Robot)

	robot := victim.Robot
	return &robot
}

// preempt returns the robot's current request to the front of the pending
// pool and frees the robot. Caller holds s.mu.
func (s *Scheduler) preempt(robot *models.Robot) {
	req, err := s.requestRepo.GetNonTerminalByRobot(robot.Name)
	if err != nil {
		log.Printf("Failed to look up request for preempted robot %s: %v", robot.Name, err)
	} else if req != nil {
		from := req.Status
		req.Status = models.StatusPending
		req.AssignedRobotName = nil
		req.AcceptedAt = nil

		ok, uerr := s.requestRepo.CompareAndUpdate(req, from)
		if uerr != nil {
			log.Printf("Failed to reset preempted request %s: %v", req.ID, uerr)
		} else if ok {
			log.Printf("Request %s returned to pending pool (robot %s preempted)", req.ID, robot.Name)
		}
	}

	s.fleet.ClearTask(robot.Name)
	robot.Status = models.RobotStatusAvailable
	robot.CurrentTask = ""
}

// dispatchToRoom commits nothing: the request is already Accepted. It marks
// the robot busy and fires the line-following command, best effort.
func (s *Scheduler) dispatchToRoom(req *models.LaundryRequest, robot *models.Robot) {
	task := fmt.Sprintf("pickup at %s (request %s)", req.RoomName, req.ID)

	color := robot.FollowColor
	if color == [3]byte{} {
		color = [3]byte{0, 0, 255}
	}

	s.fleet.SetLineFollowing(robot.Name, true, color, task)

	ip := robot.IPAddress
	name := robot.Name
	commander.Dispatch(name, func() error {
		return s.commander.StartLineFollowing(ip, color)
	})
}
