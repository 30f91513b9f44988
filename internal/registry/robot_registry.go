package registry

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lavenderblue2/laundry-robot-sub001/internal/beacon"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/interfaces"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
)

// RobotRegistry manages live robot state, liveness derivation and status
// change events.
type RobotRegistry interface {
	interfaces.Subject[models.RobotStatusChangedEvent]

	// Register adds a robot or refreshes an existing one. Returns true
	// when the name was already known (a reconnect).
	Register(name, ip string) bool

	// Heartbeat refreshes liveness; an unknown name self-heals by
	// registering.
	Heartbeat(name, ip string, stats *HeartbeatStats)

	// UpdateTelemetry applies one beacon telemetry cycle. Returns false
	// for an unknown robot.
	UpdateTelemetry(name string, reports []beacon.Report, cameraData string) bool

	// Get returns a robot snapshot by case-insensitive name.
	Get(name string) (*models.Robot, bool)

	// ListAll returns snapshots of every robot with derived offline flags.
	ListAll() []*models.RobotWithStatus

	// IsOffline derives connectivity from the robot's last ping.
	IsOffline(name string) bool

	// SetLineFollowing toggles line-following; flips status and task and
	// writes a recovery checkpoint. Returns false for an unknown robot.
	SetLineFollowing(name string, following bool, color [3]byte, task string) bool

	// AssignTask marks a robot busy with the given task description.
	AssignTask(name, task string) bool

	// ClearTask marks a robot available with no task.
	ClearTask(name string) bool

	// ToggleActive flips the admin enable flag.
	ToggleActive(name string) bool

	// ToggleAcceptRequests flips whether the robot takes assignments.
	ToggleAcceptRequests(name string) bool

	// Disconnect removes a robot from the registry entirely.
	Disconnect(name string) bool

	// SeedRecovery installs checkpoint rows as reconnect hints.
	SeedRecovery(states []*models.RobotState)
}

// robotRegistryImpl is the concrete implementation of RobotRegistry.
type robotRegistryImpl struct {
	robots map[string]*models.Robot // keyed by folded name
	mu     sync.RWMutex

	offlineAfter time.Duration
	checkpoints  CheckpointStore
	recovery     map[string]*models.RobotState

	observers   []interfaces.Observer[models.RobotStatusChangedEvent]
	observersMu sync.RWMutex
}

// Config holds registry construction options.
type Config struct {
	OfflineAfter time.Duration
	Checkpoints  CheckpointStore
}

// NewRobotRegistry creates a new RobotRegistry instance.
func NewRobotRegistry(cfg Config) RobotRegistry {
	offlineAfter := cfg.OfflineAfter
	if offlineAfter == 0 {
		offlineAfter = DefaultOfflineAfter
	}

	return &robotRegistryImpl{
		robots:       make(map[string]*models.Robot),
		offlineAfter: offlineAfter,
		checkpoints:  cfg.Checkpoints,
		recovery:     make(map[string]*models.RobotState),
		observers:    make([]interfaces.Observer[models.RobotStatusChangedEvent], 0),
	}
}

// foldName implements the registry's case-insensitive lookup contract.
func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *robotRegistryImpl) Register(name, ip string) bool {
	key := foldName(name)
	now := time.Now()

	r.mu.Lock()
	robot, exists := r.robots[key]
	if exists {
		robot.IPAddress = ip
		robot.LastPing = now
		r.mu.Unlock()
		log.Printf("Robot %s reconnected from %s", name, ip)
		return true
	}

	robot = &models.Robot{
		Name:              name,
		IPAddress:         ip,
		ConnectedAt:       now,
		LastPing:          now,
		IsActive:          true,
		CanAcceptRequests: true,
		Status:            models.RobotStatusAvailable,
		Beacons:           make(map[string]*models.DetectedBeacon),
	}

	// Apply restart recovery hints, if a checkpoint was loaded for this
	// name.
	if hint, ok := r.recovery[key]; ok {
		robot.CurrentLocation = hint.NearestRoom
		robot.FollowColor = [3]byte{byte(hint.FollowColorR), byte(hint.FollowColorG), byte(hint.FollowColorB)}
	}

	r.robots[key] = robot
	r.mu.Unlock()

	log.Printf("Robot %s registered from %s", name, ip)

	go r.NotifyObservers(models.RobotStatusChangedEvent{
		RobotName:      name,
		PreviousStatus: "offline",
		CurrentStatus:  string(models.RobotStatusAvailable),
	})

	return false
}

func (r *robotRegistryImpl) Heartbeat(name, ip string, stats *HeartbeatStats) {
	key := foldName(name)

	r.mu.Lock()
	robot, exists := r.robots[key]
	if !exists {
		r.mu.Unlock()
		// Unknown name self-heals: any heartbeat counts as registration.
		r.Register(name, ip)
		if stats != nil {
			r.Heartbeat(name, ip, stats)
		}
		return
	}

	robot.IPAddress = ip
	robot.LastPing = time.Now()
	if stats != nil {
		robot.UptimeSeconds = stats.UptimeSeconds
		robot.MemoryUsedMB = stats.MemoryUsedMB
		robot.CPUPercent = stats.CPUPercent
	}
	r.mu.Unlock()
}

func (r *robotRegistryImpl) UpdateTelemetry(name string, reports []beacon.Report, cameraData string) bool {
	key := foldName(name)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	robot, exists := r.robots[key]
	if !exists {
		return false
	}

	// Any telemetry counts as liveness.
	robot.LastPing = now
	if cameraData != "" {
		robot.LastCameraData = cameraData
	}

	for _, report := range reports {
		beacon.Apply(robot.Beacons, report, now)
	}

	// The aging sweep runs every cycle, even for cycles with zero reports.
	beacon.Sweep(robot.Beacons, now)

	// Location is only ever the room of a currently in-range beacon. A
	// cycle that leaves none clears it, so nothing downstream acts on a
	// room the robot was last seen in.
	if nearest := beacon.Nearest(robot.Beacons); nearest != nil {
		robot.CurrentLocation = nearest.RoomName
	} else {
		robot.CurrentLocation = ""
	}

	return true
}

func (r *robotRegistryImpl) Get(name string) (*models.Robot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	robot, exists := r.robots[foldName(name)]
	if !exists {
		return nil, false
	}
	snapshot := snapshotRobot(robot)
	return &snapshot, true
}

func (r *robotRegistryImpl) ListAll() []*models.RobotWithStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	robots := make([]*models.RobotWithStatus, 0, len(r.robots))
	for _, robot := range r.robots {
		robots = append(robots, &models.RobotWithStatus{
			Robot:     snapshotRobot(robot),
			IsOffline: now.Sub(robot.LastPing) > r.offlineAfter,
		})
	}
	return robots
}

func (r *robotRegistryImpl) IsOffline(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	robot, exists := r.robots[foldName(name)]
	if !exists {
		return true
	}
	return time.Now().Sub(robot.LastPing) > r.offlineAfter
}

func (r *robotRegistryImpl) SetLineFollowing(name string, following bool, color [3]byte, task string) bool {
	key := foldName(name)

	r.mu.Lock()
	robot, exists := r.robots[key]
	if !exists {
		r.mu.Unlock()
		return false
	}

	prev := robot.Status
	robot.IsFollowingLine = following
	robot.LastPing = time.Now()
	if following {
		robot.FollowColor = color
		robot.Status = models.RobotStatusBusy
		if task != "" {
			robot.CurrentTask = task
		} else if robot.CurrentTask == "" {
			robot.CurrentTask = "line following"
		}
	} else {
		robot.Status = models.RobotStatusAvailable
		robot.CurrentTask = ""
	}

	current := robot.Status
	state := checkpointFor(robot)
	r.mu.Unlock()

	// Best-effort checkpoint write for crash recovery; failure never blocks
	// the toggle.
	if r.checkpoints != nil {
		go func() {
			if err := r.checkpoints.UpsertRobotState(state); err != nil {
				log.Printf("Failed to checkpoint robot %s: %v", name, err)
			}
		}()
	}

	r.notifyStatusChange(name, prev, current)
	return true
}

func (r *robotRegistryImpl) AssignTask(name, task string) bool {
	return r.setStatusTask(name, models.RobotStatusBusy, task)
}

func (r *robotRegistryImpl) ClearTask(name string) bool {
	return r.setStatusTask(name, models.RobotStatusAvailable, "")
}

// setStatusTask applies the status and task together so the
// busy-iff-task-set invariant holds under every mutation.
func (r *robotRegistryImpl) setStatusTask(name string, status models.RobotStatus, task string) bool {
	key := foldName(name)

	r.mu.Lock()
	robot, exists := r.robots[key]
	if !exists {
		r.mu.Unlock()
		return false
	}

	prev := robot.Status
	robot.Status = status
	robot.CurrentTask = task
	robot.LastPing = time.Now()
	r.mu.Unlock()

	r.notifyStatusChange(name, prev, status)
	return true
}

func (r *robotRegistryImpl) ToggleActive(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	robot, exists := r.robots[foldName(name)]
	if !exists {
		return false
	}
	robot.IsActive = !robot.IsActive
	robot.LastPing = time.Now()
	log.Printf("Robot %s active flag now %v", name, robot.IsActive)
	return true
}

func (r *robotRegistryImpl) ToggleAcceptRequests(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	robot, exists := r.robots[foldName(name)]
	if !exists {
		return false
	}
	robot.CanAcceptRequests = !robot.CanAcceptRequests
	robot.LastPing = time.Now()
	log.Printf("Robot %s accept-requests flag now %v", name, robot.CanAcceptRequests)
	return true
}

func (r *robotRegistryImpl) Disconnect(name string) bool {
	key := foldName(name)

	r.mu.Lock()
	robot, exists := r.robots[key]
	if !exists {
		r.mu.Unlock()
		return false
	}
	prev := robot.Status
	delete(r.robots, key)
	r.mu.Unlock()

	log.Printf("Robot %s disconnected and removed from registry", name)

	go r.NotifyObservers(models.RobotStatusChangedEvent{
		RobotName:      name,
		PreviousStatus: string(prev),
		CurrentStatus:  "offline",
	})
	return true
}

func (r *robotRegistryImpl) SeedRecovery(states []*models.RobotState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, state := range states {
		r.recovery[foldName(state.RobotName)] = state
	}
	if len(states) > 0 {
		log.Printf("Loaded %d robot recovery checkpoints", len(states))
	}
}

// Subscribe adds an observer to receive status change notifications.
func (r *robotRegistryImpl) Subscribe(observer interfaces.Observer[models.RobotStatusChangedEvent]) {
	r.observersMu.Lock()
	defer r.observersMu.Unlock()
	r.observers = append(r.observers, observer)
}

// Unsubscribe removes an observer.
func (r *robotRegistryImpl) Unsubscribe(observer interfaces.Observer[models.RobotStatusChangedEvent]) {
	r.observersMu.Lock()
	defer r.observersMu.Unlock()

	for i, obs := range r.observers {
		if obs == observer {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers sends an event to all registered observers.
func (r *robotRegistryImpl) NotifyObservers(event models.RobotStatusChangedEvent) {
	r.observersMu.RLock()
	observers := make([]interfaces.Observer[models.RobotStatusChangedEvent], len(r.observers))
	copy(observers, r.observers)
	r.observersMu.RUnlock()

	for _, observer := range observers {
		observer.OnEvent(event)
	}
}

func (r *robotRegistryImpl) notifyStatusChange(name string, prev, current models.RobotStatus) {
	if prev == current {
		return
	}
	go r.NotifyObservers(models.RobotStatusChangedEvent{
		RobotName:      name,
		PreviousStatus: string(prev),
		CurrentStatus:  string(current),
	})
}

// snapshotRobot copies a robot including its beacon map so callers never
// share mutable state with the registry.
func snapshotRobot(robot *models.Robot) models.Robot {
	snapshot := *robot
	snapshot.Beacons = make(map[string]*models.DetectedBeacon, len(robot.Beacons))
	for mac, b := range robot.Beacons {
		copied := *b
		snapshot.Beacons[mac] = &copied
	}
	return snapshot
}

// checkpointFor builds the durable checkpoint row for a robot, capturing
// its nearest in-range beacon for crash-recovery context.
func checkpointFor(robot *models.Robot) *models.RobotState {
	state := &models.RobotState{
		RobotName:       robot.Name,
		IPAddress:       robot.IPAddress,
		IsFollowingLine: robot.IsFollowingLine,
		FollowColorR:    int(robot.FollowColor[0]),
		FollowColorG:    int(robot.FollowColor[1]),
		FollowColorB:    int(robot.FollowColor[2]),
		UpdatedAt:       time.Now(),
	}
	if nearest := beacon.Nearest(robot.Beacons); nearest != nil {
		state.NearestBeaconMAC = nearest.MACAddress
		state.NearestRoom = nearest.RoomName
	}
	return state
}
