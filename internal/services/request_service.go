package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lavenderblue2/laundry-robot-sub001/internal/commander"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/db"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
)

// Fleet is the slice of the robot registry the lifecycle service needs.
type Fleet interface {
	Get(name string) (*models.Robot, bool)
	SetLineFollowing(name string, following bool, color [3]byte, task string) bool
}

// RequestServiceConfig holds the dependencies for RequestService.
type RequestServiceConfig struct {
	RequestRepo  db.RequestRepository
	SettingsRepo db.SettingsRepository
	Fleet        Fleet
	Commander    commander.Commander
	BaseRoomName string
}

// RequestService owns every status transition of a laundry request. Guards
// are strict: each operation names the exact status it accepts, and the
// write is compare-and-set so two callers can never double-transition.
type RequestService struct {
	requestRepo  db.RequestRepository
	settingsRepo db.SettingsRepository
	fleet        Fleet
	commander    commander.Commander
	baseRoom     string
}

// NewRequestService creates a new RequestService instance.
func NewRequestService(cfg RequestServiceConfig) *RequestService {
	baseRoom := cfg.BaseRoomName
	if baseRoom == "" {
		baseRoom = "Base"
	}

	return &RequestService{
		requestRepo:  cfg.RequestRepo,
		settingsRepo: cfg.SettingsRepo,
		fleet:        cfg.Fleet,
		commander:    cfg.Commander,
		baseRoom:     baseRoom,
	}
}

// GetRequest returns a request by id.
func (s *RequestService) GetRequest(id string) (*models.LaundryRequest, error) {
	req, err := s.requestRepo.GetRequestByID(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// GetActiveRequest returns the customer's current active request, or nil.
func (s *RequestService) GetActiveRequest(customerID string) (*models.LaundryRequest, error) {
	return s.requestRepo.GetActiveByCustomer(customerID, models.ActiveForCustomer)
}

// ConfirmLoaded handles the customer's load confirmation. Guard: exactly
// ArrivedAtRoom. Weight and cost are computed only here; the per-kg rate is
// itself the minimum charge.
func (s *RequestService) ConfirmLoaded(id string, weightKg float64) (*models.LaundryRequest, error) {
	req, err := s.GetRequest(id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusArrivedAtRoom {
		return nil, fmt.Errorf("%w: confirm-loaded requires status %s, have %s",
			ErrGuardViolation, models.StatusArrivedAtRoom, req.Status)
	}

	settings, err := s.settingsRepo.GetSettings()
	if err != nil {
		log.Printf("Failed to read settings, using defaults: %v", err)
		settings = models.DefaultSettings()
	}

	now := time.Now()
	req.Status = models.StatusLaundryLoaded
	req.WeightKg = weightKg
	req.TotalCost = ComputeCost(weightKg, settings.RatePerKg)
	req.LaundryLoadedAt = &now

	ok, err := s.requestRepo.CompareAndUpdate(req, models.StatusArrivedAtRoom)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: request %s changed concurrently", ErrGuardViolation, id)
	}

	// Commit first, then best-effort actuation: send the robot back to
	// base with the laundry aboard.
	s.commandLineFollow(req, "returning to base")

	return req, nil
}

// ConfirmUnloaded handles the customer's unload confirmation at the room
// (robot returns empty) or the at-base pickup handoff (request completes).
func (s *RequestService) ConfirmUnloaded(id string) (*models.LaundryRequest, error) {
	req, err := s.GetRequest(id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	switch req.Status {
	case models.StatusFinishedWashingArrivedAtRoom:
		req.Status = models.StatusFinishedWashingGoingToBase

		ok, err := s.requestRepo.CompareAndUpdate(req, models.StatusFinishedWashingArrivedAtRoom)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: request %s changed concurrently", ErrGuardViolation, id)
		}

		s.commandLineFollow(req, "returning to base after delivery")
		return req, nil

	case models.StatusFinishedWashingAwaitingPickup:
		req.Status = models.StatusCompleted
		req.CompletedAt = &now

		ok, err := s.requestRepo.CompareAndUpdate(req, models.StatusFinishedWashingAwaitingPickup)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: request %s changed concurrently", ErrGuardViolation, id)
		}
		return req, nil

	default:
		return nil, fmt.Errorf("%w: confirm-unloaded requires an unload-ready status, have %s",
			ErrGuardViolation, req.Status)
	}
}

// SelectDeliveryOption commits the customer's post-wash choice. Guard:
// exactly FinishedWashing.
func (s *RequestService) SelectDeliveryOption(id, option string) (*models.LaundryRequest, error) {
	req, err := s.GetRequest(id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusFinishedWashing {
		return nil, fmt.Errorf("%w: select-delivery-option requires status %s, have %s",
			ErrGuardViolation, models.StatusFinishedWashing, req.Status)
	}

	switch strings.ToLower(option) {
	case "delivery":
		req.Status = models.StatusFinishedWashingReadyToDeliver
	case "pickup":
		req.Status = models.StatusFinishedWashingAwaitingPickup
	default:
		return nil, fmt.Errorf("%w: unknown delivery option %q", ErrGuardViolation, option)
	}

	ok, err := s.requestRepo.CompareAndUpdate(req, models.StatusFinishedWashing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: request %s changed concurrently", ErrGuardViolation, id)
	}

	return req, nil
}

// DeclineRequest rejects a pending request with a reason.
func (s *RequestService) DeclineRequest(id, reason string) (*models.LaundryRequest, error) {
	req, err := s.GetRequest(id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: decline requires status %s, have %s",
			ErrGuardViolation, models.StatusPending, req.Status)
	}

	req.Status = models.StatusDeclined
	req.DeclineReason = &reason

	ok, err := s.requestRepo.CompareAndUpdate(req, models.StatusPending)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: request %s changed concurrently", ErrGuardViolation, id)
	}

	return req, nil
}

// AdvanceStatus applies an operator-driven transition, validated against
// the state machine's edge table.
func (s *RequestService) AdvanceStatus(id string, target models.RequestStatus) (*models.LaundryRequest, error) {
	req, err := s.GetRequest(id)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: request %s is terminal (%s)", ErrGuardViolation, id, req.Status)
	}
	if !req.Status.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: no transition %s -> %s", ErrGuardViolation, req.Status, target)
	}

	from := req.Status
	req.Status = target
	stampTransition(req, target, time.Now())

	ok, err := s.requestRepo.CompareAndUpdate(req, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: request %s changed concurrently", ErrGuardViolation, id)
	}

	// Starting a delivery run is the one operator transition that moves a
	// robot.
	if target == models.StatusFinishedWashingGoingToRoom {
		s.commandLineFollow(req, fmt.Sprintf("delivering to %s", req.RoomName))
	}

	return req, nil
}

// HandleRobotAtRoom applies telemetry-driven transitions when a robot's
// nearest in-range beacon resolves to a room. Guard misses are skipped
// silently: a robot lingers at a beacon long after the transition fired.
func (s *RequestService) HandleRobotAtRoom(robotName, room string) {
	req, err := s.requestRepo.GetNonTerminalByRobot(robotName)
	if err != nil {
		log.Printf("Failed to look up request for robot %s: %v", robotName, err)
		return
	}
	if req == nil {
		return
	}

	now := time.Now()
	atRequestRoom := room != "" && strings.EqualFold(room, req.RoomName)
	atBase := strings.EqualFold(room, s.baseRoom)

	var from, to models.RequestStatus
	switch {
	// Arrival can fire from Accepted too: the robot may reach the room
	// before anything recorded the en-route step.
	case (req.Status == models.StatusRobotEnRoute || req.Status == models.StatusAccepted) && atRequestRoom:
		from, to = req.Status, models.StatusArrivedAtRoom
		req.ArrivedAtRoomAt = &now
	case req.Status == models.StatusFinishedWashingGoingToRoom && atRequestRoom:
		from, to = models.StatusFinishedWashingGoingToRoom, models.StatusFinishedWashingArrivedAtRoom
		req.ArrivedAtRoomAt = &now
	case req.Status == models.StatusLaundryLoaded && atBase:
		from, to = models.StatusLaundryLoaded, models.StatusReturnedToBase
		req.ReturnedToBaseAt = &now
	case req.Status == models.StatusFinishedWashingGoingToBase && atBase:
		from, to = models.StatusFinishedWashingGoingToBase, models.StatusFinishedWashingAtBase
	default:
		return
	}

	req.Status = to
	ok, err := s.requestRepo.CompareAndUpdate(req, from)
	if err != nil {
		log.Printf("Failed to apply arrival transition for request %s: %v", req.ID, err)
		return
	}
	if !ok {
		return
	}

	log.Printf("Request %s: %s -> %s (robot %s reached %s)", req.ID, from, to, robotName, room)

	// The robot stops at the beacon; reflect that and tell it to halt.
	if robot, exists := s.fleet.Get(robotName); exists {
		s.fleet.SetLineFollowing(robotName, false, robot.FollowColor, "")
		commander.Dispatch(robotName, func() error {
			return s.commander.StopLineFollowing(robot.IPAddress)
		})
	}
}

// AbortDelivery turns a stalled finished-wash delivery around: the robot
// returns to base with the laundry still aboard.
func (s *RequestService) AbortDelivery(req *models.LaundryRequest) error {
	if req.Status != models.StatusFinishedWashingArrivedAtRoom {
		return fmt.Errorf("%w: abort-delivery requires status %s, have %s",
			ErrGuardViolation, models.StatusFinishedWashingArrivedAtRoom, req.Status)
	}

	req.Status = models.StatusFinishedWashingGoingToBase

	ok, err := s.requestRepo.CompareAndUpdate(req, models.StatusFinishedWashingArrivedAtRoom)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: request %s changed concurrently", ErrGuardViolation, req.ID)
	}

	s.commandLineFollow(req, "returning to base, delivery timed out")
	return nil
}

// ForceCancel moves a request to Cancelled outside the edge table. Used by
// the background watchdogs; terminal requests are still never touched.
// When keepRobot is false the assignment is cleared.
func (s *RequestService) ForceCancel(req *models.LaundryRequest, reason string, keepRobot bool) error {
	if req.Status.IsTerminal() {
		return fmt.Errorf("%w: request %s is terminal (%s)", ErrGuardViolation, req.ID, req.Status)
	}

	from := req.Status
	req.Status = models.StatusCancelled
	req.DeclineReason = &reason
	if !keepRobot {
		req.AssignedRobotName = nil
	}

	ok, err := s.requestRepo.CompareAndUpdate(req, from)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: request %s changed concurrently", ErrGuardViolation, req.ID)
	}
	return nil
}

// ComputeCost applies the pricing rule: weight times rate, clamped below by
// one kilogram's rate.
func ComputeCost(weightKg, ratePerKg float64) float64 {
	cost := weightKg * ratePerKg
	if cost < ratePerKg {
		return ratePerKg
	}
	return cost
}

// commandLineFollow commits nothing; it flips the assigned robot into
// line-following and dispatches the start command, best effort.
func (s *RequestService) commandLineFollow(req *models.LaundryRequest, task string) {
	if req.AssignedRobotName == nil {
		return
	}
	name := *req.AssignedRobotName

	robot, exists := s.fleet.Get(name)
	if !exists {
		log.Printf("Warning: request %s assigned to unknown robot %s, skipping command", req.ID, name)
		return
	}

	color := robot.FollowColor
	if color == [3]byte{} {
		color = [3]byte{0, 0, 255}
	}

	s.fleet.SetLineFollowing(name, true, color, fmt.Sprintf("%s (request %s)", task, req.ID))
	commander.Dispatch(name, func() error {
		return s.commander.StartLineFollowing(robot.IPAddress, color)
	})
}

// stampTransition records per-transition timestamps for operator-driven
// edges.
func stampTransition(req *models.LaundryRequest, target models.RequestStatus, now time.Time) {
	switch target {
	case models.StatusAccepted:
		req.AcceptedAt = &now
	case models.StatusArrivedAtRoom, models.StatusFinishedWashingArrivedAtRoom:
		req.ArrivedAtRoomAt = &now
	case models.StatusLaundryLoaded:
		req.LaundryLoadedAt = &now
	case models.StatusReturnedToBase:
		req.ReturnedToBaseAt = &now
	case models.StatusWashing:
		req.WashingStartedAt = &now
	case models.StatusFinishedWashing:
		req.FinishedWashingAt = &now
	case models.StatusCompleted:
		req.CompletedAt = &now
	}
}
