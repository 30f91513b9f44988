package services

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
)

// Test helpers

type memoryRequestRepo struct {
	mu       sync.Mutex
	requests map[string]*models.LaundryRequest

	// beforeCAS, when set, runs just before a CompareAndUpdate check so a
	// test can simulate a concurrent writer winning the race.
	beforeCAS func()

	// getErr, when set, makes every lookup fail like a broken database.
	getErr error
}

func newMemoryRequestRepo() *memoryRequestRepo {
	return &memoryRequestRepo{requests: make(map[string]*models.LaundryRequest)}
}

func (r *memoryRequestRepo) put(req *models.LaundryRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *req
	r.requests[req.ID] = &copied
}

func (r *memoryRequestRepo) get(id string) *models.LaundryRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req, ok := r.requests[id]; ok {
		copied := *req
		return &copied
	}
	return nil
}

func (r *memoryRequestRepo) CreateRequest(req *models.LaundryRequest) error {
	r.put(req)
	return nil
}

func (r *memoryRequestRepo) GetRequestByID(id string) (*models.LaundryRequest, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	if req := r.get(id); req != nil {
		return req, nil
	}
	return nil, fmt.Errorf("request not found with id %s: %w", id, sql.ErrNoRows)
}

func (r *memoryRequestRepo) GetActiveByCustomer(customerID string, statuses []models.RequestStatus) (*models.LaundryRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.CustomerID != customerID {
			continue
		}
		for _, s := range statuses {
			if req.Status == s {
				copied := *req
				return &copied, nil
			}
		}
	}
	return nil, nil
}

func (r *memoryRequestRepo) AnyInStatuses(statuses []models.RequestStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		for _, s := range statuses {
			if req.Status == s {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *memoryRequestRepo) OldestPending() (*models.LaundryRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *models.LaundryRequest
	for _, req := range r.requests {
		if req.Status != models.StatusPending {
			continue
		}
		if oldest == nil || req.RequestedAt.Before(oldest.RequestedAt) {
			oldest = req
		}
	}
	if oldest == nil {
		return nil, nil
	}
	copied := *oldest
	return &copied, nil
}

func (r *memoryRequestRepo) GetNonTerminalByRobot(robotName string) (*models.LaundryRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.Status.IsTerminal() || req.AssignedRobotName == nil {
			continue
		}
		if *req.AssignedRobotName == robotName {
			copied := *req
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memoryRequestRepo) GetArrivalTimedOut(cutoff time.Time) ([]*models.LaundryRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.LaundryRequest
	for _, req := range r.requests {
		if req.Status != models.StatusArrivedAtRoom && req.Status != models.StatusFinishedWashingArrivedAtRoom {
			continue
		}
		if req.ArrivedAtRoomAt != nil && req.ArrivedAtRoomAt.Before(cutoff) {
			copied := *req
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memoryRequestRepo) GetOrphanCandidates(cutoff time.Time) ([]*models.LaundryRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.LaundryRequest
	for _, req := range r.requests {
		if req.Status.IsTerminal() || req.AssignedRobotName == nil {
			continue
		}
		if req.RequestedAt.Before(cutoff) {
			copied := *req
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memoryRequestRepo) CompareAndUpdate(req *models.LaundryRequest, expected models.RequestStatus) (bool, error) {
	if r.beforeCAS != nil {
		r.beforeCAS()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.requests[req.ID]
	if !ok || stored.Status != expected {
		return false, nil
	}
	copied := *req
	r.requests[req.ID] = &copied
	return true, nil
}

type fixedSettingsRepo struct {
	settings models.Settings
}

func (r *fixedSettingsRepo) GetSettings() (models.Settings, error) {
	return r.settings, nil
}

type fakeFleet struct {
	mu     sync.Mutex
	robots map[string]*models.Robot

	followCalls []followCall
}

type followCall struct {
	name      string
	following bool
	task      string
}

func newFakeFleet(robots ...*models.Robot) *fakeFleet {
	f := &fakeFleet{robots: make(map[string]*models.Robot)}
	for _, r := range robots {
		f.robots[r.Name] = r
	}
	return f
}

func (f *fakeFleet) Get(name string) (*models.Robot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	robot, ok := f.robots[name]
	if !ok {
		return nil, false
	}
	copied := *robot
	return &copied, true
}

func (f *fakeFleet) SetLineFollowing(name string, following bool, color [3]byte, task string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	robot, ok := f.robots[name]
	if !ok {
		return false
	}
	robot.IsFollowingLine = following
	robot.FollowColor = color
	robot.CurrentTask = task
	f.followCalls = append(f.followCalls, followCall{name: name, following: following, task: task})
	return true
}

func (f *fakeFleet) lastFollowCall(t *testing.T) followCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.followCalls) == 0 {
		t.Fatal("no SetLineFollowing calls recorded")
	}
	return f.followCalls[len(f.followCalls)-1]
}

type recordingCommander struct {
	mu    sync.Mutex
	calls []string
}

func (c *recordingCommander) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *recordingCommander) StartLineFollowing(ip string, color [3]byte) error {
	c.record("start " + ip)
	return nil
}

func (c *recordingCommander) StopLineFollowing(ip string) error {
	c.record("stop " + ip)
	return nil
}

func (c *recordingCommander) TurnAround(ip string) error {
	c.record("turn " + ip)
	return nil
}

func robotNamed(name string) *models.Robot {
	return &models.Robot{
		Name:              name,
		IPAddress:         "10.0.0.5",
		IsActive:          true,
		CanAcceptRequests: true,
		Status:            models.RobotStatusAvailable,
		LastPing:          time.Now(),
		Beacons:           make(map[string]*models.DetectedBeacon),
	}
}

func requestInStatus(id string, status models.RequestStatus, robot string) *models.LaundryRequest {
	req := &models.LaundryRequest{
		ID:           id,
		CustomerID:   "cust-" + id,
		CustomerName: "Customer",
		RoomName:     "Room-101",
		Type:         models.RequestTypePickupAndDelivery,
		Status:       status,
		RequestedAt:  time.Now(),
		UpdatedAt:    time.Now(),
	}
	if robot != "" {
		req.AssignedRobotName = &robot
	}
	return req
}

func newTestService(t *testing.T, repo *memoryRequestRepo, fleet *fakeFleet) *RequestService {
	t.Helper()
	return NewRequestService(RequestServiceConfig{
		RequestRepo:  repo,
		SettingsRepo: &fixedSettingsRepo{settings: models.DefaultSettings()},
		Fleet:        fleet,
		Commander:    &recordingCommander{},
		BaseRoomName: "Base",
	})
}

// Tests

func TestComputeCost(t *testing.T) {
	cases := []struct {
		weight, rate, want float64
	}{
		{2, 25, 50},
		{1, 25, 25},
		{0.1, 25, 25}, // clamped to the one-kilogram minimum
		{0, 25, 25},
		{3.5, 10, 35},
	}
	for _, c := range cases {
		if got := ComputeCost(c.weight, c.rate); got != c.want {
			t.Errorf("ComputeCost(%v, %v) = %v, want %v", c.weight, c.rate, got, c.want)
		}
	}
}

func TestConfirmLoaded(t *testing.T) {
	repo := newMemoryRequestRepo()
	fleet := newFakeFleet(robotNamed("washbot-1"))
	svc := newTestService(t, repo, fleet)

	repo.put(requestInStatus("req-1", models.StatusArrivedAtRoom, "washbot-1"))

	req, err := svc.ConfirmLoaded("req-1", 2.0)
	if err != nil {
		t.Fatalf("ConfirmLoaded failed: %v", err)
	}
	if req.Status != models.StatusLaundryLoaded {
		t.Errorf("Status = %s, want %s", req.Status, models.StatusLaundryLoaded)
	}
	if req.TotalCost != 50 {
		t.Errorf("TotalCost = %v, want 50", req.TotalCost)
	}
	if req.LaundryLoadedAt == nil {
		t.Error("LaundryLoadedAt not stamped")
	}

	// The assigned robot is sent home with the laundry aboard.
	call := fleet.lastFollowCall(t)
	if call.name != "washbot-1" || !call.following {
		t.Errorf("unexpected follow call: %+v", call)
	}

	if stored := repo.get("req-1"); stored.Status != models.StatusLaundryLoaded {
		t.Errorf("stored Status = %s, want %s", stored.Status, models.StatusLaundryLoaded)
	}
}

func TestConfirmLoadedGuard(t *testing.T) {
	repo := newMemoryRequestRepo()
	svc := newTestService(t, repo, newFakeFleet())

	repo.put(requestInStatus("req-1", models.StatusPending, ""))

	if _, err := svc.ConfirmLoaded("req-1", 2.0); !errors.Is(err, ErrGuardViolation) {
		t.Errorf("expected guard violation, got %v", err)
	}
	if _, err := svc.ConfirmLoaded("missing", 2.0); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestGetRequestKeepsRepositoryErrors(t *testing.T) {
	repo := newMemoryRequestRepo()
	svc := newTestService(t, repo, newFakeFleet())

	if _, err := svc.GetRequest("missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("expected not-found for missing id, got %v", err)
	}

	// A broken database is a server-side failure, not a missing request.
	repo.getErr = errors.New("database is locked")
	_, err := svc.GetRequest("req-1")
	if err == nil {
		t.Fatal("expected an error from a failing repository")
	}
	if errors.Is(err, ErrRequestNotFound) {
		t.Errorf("repository failure reported as not-found: %v", err)
	}
}

func TestConfirmUnloadedAtRoom(t *testing.T) {
	repo := newMemoryRequestRepo()
	fleet := newFakeFleet(robotNamed("washbot-1"))
	svc := newTestService(t, repo, fleet)

	repo.put(requestInStatus("req-1", models.StatusFinishedWashingArrivedAtRoom, "washbot-1"))

	req, err := svc.ConfirmUnloaded("req-1")
	if err != nil {
		t.Fatalf("ConfirmUnloaded failed: %v", err)
	}
	if req.Status != models.StatusFinishedWashingGoingToBase {
		t.Errorf("Status = %s, want %s", req.Status, models.StatusFinishedWashingGoingToBase)
	}
	call := fleet.lastFollowCall(t)
	if !call.following {
		t.Error("robot not commanded back to base after unload")
	}
}

func TestConfirmUnloadedAtBasePickup(t *testing.T) {
	repo := newMemoryRequestRepo()
	svc := newTestService(t, repo, newFakeFleet())

	repo.put(requestInStatus("req-1", models.StatusFinishedWashingAwaitingPickup, ""))

	req, err := svc.ConfirmUnloaded("req-1")
	if err != nil {
		t.Fatalf("ConfirmUnloaded failed: %v", err)
	}
	if req.Status != models.StatusCompleted {
		t.Errorf("Status = %s, want %s", req.Status, models.StatusCompleted)
	}
	if req.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}
}

func TestConfirmUnloadedGuard(t *testing.T) {
	repo := newMemoryRequestRepo()
	svc := newTestService(t, repo, newFakeFleet())

	repo.put(requestInStatus("req-1", models.StatusWashing, ""))

	if _, err := svc.ConfirmUnloaded("req-1"); !errors.Is(err, ErrGuardViolation) {
		t.Errorf("expected guard violation, got %v", err)
	}
}

func TestSelectDeliveryOption(t *testing.T) {
	repo := newMemoryRequestRepo()
	svc := newTestService(t, repo, newFakeFleet())

	repo.put(requestInStatus("req-1", models.StatusFinishedWashing, ""))
	req, err := svc.SelectDeliveryOption("req-1", "delivery")
	if err != nil {
		t.Fatalf("SelectDeliveryOption failed: %v", err)
	}
	if req.Status != models.StatusFinishedWashingReadyToDeliver {
		t.Errorf("Status = %s, want %s", req.Status, models.StatusFinishedWashingReadyToDeliver)
	}

	repo.put(requestInStatus("req-2", models.StatusFinishedWashing, ""))
	req, err = svc.SelectDeliveryOption("req-2", "Pickup")
	if err != nil {
		t.Fatalf("SelectDeliveryOption failed: %v", err)
	}
	if req.Status != models.StatusFinishedWashingAwaitingPickup {
		t.Errorf("Status = %s, want %s", req.Status, models.StatusFinishedWashingAwaitingPickup)
	}

	repo.put(requestInStatus("req-3", models.StatusFinishedWashing, ""))
	if _, err := svc.SelectDeliveryOption("req-3", "teleport"); !errors.Is(err, ErrGuardViolation) {
		t.Errorf("expected guard violation for unknown option, got %v", err)
	}

	repo.put(requestInStatus("req-4", models.StatusWashing, ""))
	if _, err := svc.SelectDeliveryOption("req-4", "delivery"); !errors.Is(err, ErrGuardViolation) {
		t.Errorf("expected guard violation for wrong status, got %v", err)
	}
}

func TestDeclineRequest(t *testing.T) {
	repo := newMemoryRequestRepo()
	svc := newTestService(t, repo, newFakeFleet())

	repo.put(requestInStatus("req-1", models.StatusPending, ""))

	req, err := svc.DeclineRequest("req-1", "machines full")
	if err != nil {
		t.Fatalf("DeclineRequest failed: %v", err)
	}
	if req.Status != models.StatusDeclined {
		t.Errorf("Status = %s, want %s", req.Status, models.StatusDeclined)
	}
	if req.DeclineReason == nil || *req.DeclineReason != "machines full" {
		t.Errorf("DeclineReason = %v", req.DeclineReason)
	}

	// Only pending requests may be declined.
	repo.put(requestInStatus("req-2", models.StatusAccepted, ""))
	if _, err := svc.DeclineRequest("req-2", "too late"); !errors.Is(err, ErrGuardViolation) {
		t.Errorf("expected guard violation, got %v", err)
	}
}

func TestAdvanceStatus(t *testing.T) {
	repo := newMemoryRequestRepo()
	svc := newTestService(t, repo, newFakeFleet())

	repo.put(requestInStatus("req-1", models.StatusReturnedToBase, ""))

	req, err := svc.AdvanceStatus("req-1", models.StatusWeighingComplete)
	if err != nil {
		t.Fatalf("AdvanceStatus failed: %v", err)
	}
	if req.Status != models.StatusWeighingComplete {
		t.Errorf("Status = %s, want %s", req.Status, models.StatusWeighingComplete)
	}

	// Illegal edge.
	if _, err := svc.AdvanceStatus("req-1", models.StatusCompleted); !errors.Is(err, ErrGuardViolation) {
		t.Errorf("expected guard violation for illegal edge, got %v", err)
	}

	// Terminal requests are immutable.
	repo.put(requestInStatus("req-2", models.StatusCompleted, ""))
	if _, err := svc.AdvanceStatus("req-2", models.StatusPending); !errors.Is(err, ErrGuardViolation) {
		t.Errorf("expected guard violation for terminal request, got %v", err)
	}
}

func TestAdvanceStatusStampsTimestamps(t *testing.T) {
	repo := newMemoryRequestRepo()
	svc := newTestService(t, repo, newFakeFleet())

	repo.put(requestInStatus("req-1", models.StatusPaymentPending, ""))
	req, err := svc.AdvanceStatus("req-1", models.StatusWashing)
	if err != nil {
		t.Fatalf("AdvanceStatus failed: %v", err)
	}
	if req.WashingStartedAt == nil {
		t.Error("WashingStartedAt not stamped")
	}

	req, err = svc.AdvanceStatus("req-1", models.StatusFinishedWashing)
	if err != nil {
		t.Fatalf("AdvanceStatus failed: %v", err)
	}
	if req.FinishedWashingAt == nil {
		t.Error("FinishedWashingAt not stamped")
	}
}

func TestAdvanceToDeliveryCommandsRobot(t *testing.T) {
	repo := newMemoryRequestRepo()
	fleet := newFakeFleet(robotNamed("washbot-1"))
	svc := newTestService(t, repo, fleet)

	repo.put(requestInStatus("req-1", models.StatusFinishedWashingReadyToDeliver, "washbot-1"))

	if _, err := svc.AdvanceStatus("req-1", models.StatusFinishedWashingGoingToRoom); err != nil {
		t.Fatalf("AdvanceStatus failed: %v", err)
	}
	call := fleet.lastFollowCall(t)
	if call.name != "washbot-1" || !call.following {
		t.Errorf("delivery start did not command the robot: %+v", call)
	}
}

func TestHandleRobotAtRoom(t *testing.T) {
	cases := []struct {
		name   string
		status models.RequestStatus
		room   string
		want   models.RequestStatus
	}{
		{"accepted robot reaches room", models.StatusAccepted, "Room-101", models.StatusArrivedAtRoom},
		{"en-route robot reaches room", models.StatusRobotEnRoute, "Room-101", models.StatusArrivedAtRoom},
		{"delivery robot reaches room", models.StatusFinishedWashingGoingToRoom, "Room-101", models.StatusFinishedWashingArrivedAtRoom},
		{"loaded robot reaches base", models.StatusLaundryLoaded, "Base", models.StatusReturnedToBase},
		{"delivery robot returns to base", models.StatusFinishedWashingGoingToBase, "Base", models.StatusFinishedWashingAtBase},
		{"wrong room is ignored", models.StatusAccepted, "Room-999", models.StatusAccepted},
		{"no in-range beacon is ignored", models.StatusAccepted, "", models.StatusAccepted},
		{"no in-range beacon during delivery is ignored", models.StatusFinishedWashingGoingToRoom, "", models.StatusFinishedWashingGoingToRoom},
		{"lingering at room after arrival is ignored", models.StatusArrivedAtRoom, "Room-101", models.StatusArrivedAtRoom},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			repo := newMemoryRequestRepo()
			fleet := newFakeFleet(robotNamed("washbot-1"))
			svc := newTestService(t, repo, fleet)

			repo.put(requestInStatus("req-1", c.status, "washbot-1"))
			svc.HandleRobotAtRoom("washbot-1", c.room)

			if stored := repo.get("req-1"); stored.Status != c.want {
				t.Errorf("Status = %s, want %s", stored.Status, c.want)
			}
		})
	}
}

func TestHandleRobotAtRoomIgnoresCase(t *testing.T) {
	repo := newMemoryRequestRepo()
	fleet := newFakeFleet(robotNamed("washbot-1"))
	svc := newTestService(t, repo, fleet)

	repo.put(requestInStatus("req-1", models.StatusAccepted, "washbot-1"))
	svc.HandleRobotAtRoom("washbot-1", "room-101")

	if stored := repo.get("req-1"); stored.Status != models.StatusArrivedAtRoom {
		t.Errorf("Status = %s, want %s", stored.Status, models.StatusArrivedAtRoom)
	}
}

func TestAbortDelivery(t *testing.T) {
	repo := newMemoryRequestRepo()
	fleet := newFakeFleet(robotNamed("washbot-1"))
	svc := newTestService(t, repo, fleet)

	req := requestInStatus("req-1", models.StatusFinishedWashingArrivedAtRoom, "washbot-1")
	repo.put(req)

	if err := svc.AbortDelivery(req); err != nil {
		t.Fatalf("AbortDelivery failed: %v", err)
	}
	if stored := repo.get("req-1"); stored.Status != models.StatusFinishedWashingGoingToBase {
		t.Errorf("Status = %s, want %s", stored.Status, models.StatusFinishedWashingGoingToBase)
	}

	wrong := requestInStatus("req-2", models.StatusWashing, "washbot-1")
	repo.put(wrong)
	if err := svc.AbortDelivery(wrong); !errors.Is(err, ErrGuardViolation) {
		t.Errorf("expected guard violation, got %v", err)
	}
}

func TestForceCancel(t *testing.T) {
	repo := newMemoryRequestRepo()
	svc := newTestService(t, repo, newFakeFleet())

	req := requestInStatus("req-1", models.StatusArrivedAtRoom, "washbot-1")
	repo.put(req)

	if err := svc.ForceCancel(req, "customer no-show", true); err != nil {
		t.Fatalf("ForceCancel failed: %v", err)
	}
	stored := repo.get("req-1")
	if stored.Status != models.StatusCancelled {
		t.Errorf("Status = %s, want %s", stored.Status, models.StatusCancelled)
	}
	if stored.AssignedRobotName == nil {
		t.Error("keepRobot=true should preserve the assignment")
	}
	if stored.DeclineReason == nil || *stored.DeclineReason != "customer no-show" {
		t.Errorf("DeclineReason = %v", stored.DeclineReason)
	}

	// Without keepRobot the assignment is cleared.
	req2 := requestInStatus("req-2", models.StatusPending, "washbot-1")
	repo.put(req2)
	if err := svc.ForceCancel(req2, "stale", false); err != nil {
		t.Fatalf("ForceCancel failed: %v", err)
	}
	if stored := repo.get("req-2"); stored.AssignedRobotName != nil {
		t.Error("keepRobot=false should clear the assignment")
	}

	// Terminal requests stay untouched even by force.
	req3 := requestInStatus("req-3", models.StatusCompleted, "")
	repo.put(req3)
	if err := svc.ForceCancel(req3, "never", false); !errors.Is(err, ErrGuardViolation) {
		t.Errorf("expected guard violation for terminal request, got %v", err)
	}
}

func TestLostRaceSurfacesAsGuardViolation(t *testing.T) {
	repo := newMemoryRequestRepo()
	svc := newTestService(t, repo, newFakeFleet())

	repo.put(requestInStatus("req-1", models.StatusArrivedAtRoom, ""))

	// A concurrent writer cancels the request after the service reads it
	// but before its compare-and-set lands.
	repo.beforeCAS = func() {
		repo.beforeCAS = nil
		stolen := requestInStatus("req-1", models.StatusCancelled, "")
		repo.put(stolen)
	}

	if _, err := svc.ConfirmLoaded("req-1", 2.0); !errors.Is(err, ErrGuardViolation) {
		t.Errorf("expected guard violation on lost race, got %v", err)
	}
	if stored := repo.get("req-1"); stored.Status != models.StatusCancelled {
		t.Errorf("lost race overwrote the winner: Status = %s", stored.Status)
	}
}
