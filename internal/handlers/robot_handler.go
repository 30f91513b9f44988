package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/beacon"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/commander"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/db"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/registry"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/services"
)

// RobotHandler serves the robot-facing ingestion endpoints and the
// operator fleet controls.
type RobotHandler struct {
	registry  registry.RobotRegistry
	commander commander.Commander
	lifecycle *services.RequestService
	stateRepo db.RobotStateRepository
}

// NewRobotHandler creates a new RobotHandler.
func NewRobotHandler(reg registry.RobotRegistry, cmd commander.Commander, lifecycle *services.RequestService, stateRepo db.RobotStateRepository) *RobotHandler {
	return &RobotHandler{
		registry:  reg,
		commander: cmd,
		lifecycle: lifecycle,
		stateRepo: stateRepo,
	}
}

type registerRequest struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

type heartbeatRequest struct {
	Name          string  `json:"name"`
	IP            string  `json:"ip"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	CPUPercent    float64 `json:"cpu_percent"`
}

type telemetryRequest struct {
	Name       string          `json:"name"`
	Beacons    []beacon.Report `json:"beacons"`
	CameraData string          `json:"camera_data,omitempty"`
}

type lineFollowingRequest struct {
	Following bool `json:"following"`
	Color     *struct {
		R int `json:"r"`
		G int `json:"g"`
		B int `json:"b"`
	} `json:"color,omitempty"`
}

// Register handles a robot's initial registration.
func (h *RobotHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name and ip are required"})
	}

	reconnect := h.registry.Register(req.Name, req.IP)
	return c.JSON(fiber.Map{"reconnect": reconnect})
}

// Heartbeat refreshes a robot's liveness; unknown names self-register.
func (h *RobotHandler) Heartbeat(c *fiber.Ctx) error {
	var req heartbeatRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}

	h.registry.Heartbeat(req.Name, req.IP, &registry.HeartbeatStats{
		UptimeSeconds: req.UptimeSeconds,
		MemoryUsedMB:  req.MemoryUsedMB,
		CPUPercent:    req.CPUPercent,
	})
	return c.JSON(fiber.Map{"ok": true})
}

// Telemetry ingests one beacon telemetry cycle and applies any
// arrival-driven request transitions.
func (h *RobotHandler) Telemetry(c *fiber.Ctx) error {
	var req telemetryRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}

	if !h.registry.UpdateTelemetry(req.Name, req.Beacons, req.CameraData) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "robot not found"})
	}

	if robot, exists := h.registry.Get(req.Name); exists && robot.CurrentLocation != "" {
		h.lifecycle.HandleRobotAtRoom(robot.Name, robot.CurrentLocation)
	}

	return c.JSON(fiber.Map{"ok": true})
}

// List returns every robot with its derived offline flag.
func (h *RobotHandler) List(c *fiber.Ctx) error {
	return c.JSON(h.registry.ListAll())
}

// ToggleActive flips the admin enable flag.
func (h *RobotHandler) ToggleActive(c *fiber.Ctx) error {
	if !h.registry.ToggleActive(c.Params("name")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "robot not found"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// ToggleAcceptRequests flips whether the robot takes assignments.
func (h *RobotHandler) ToggleAcceptRequests(c *fiber.Ctx) error {
	if !h.registry.ToggleAcceptRequests(c.Params("name")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "robot not found"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// SetLineFollowing toggles line-following and relays the command to the
// robot itself.
func (h *RobotHandler) SetLineFollowing(c *fiber.Ctx) error {
	name := c.Params("name")

	var req lineFollowingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	robot, exists := h.registry.Get(name)
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "robot not found"})
	}

	color := robot.FollowColor
	if req.Color != nil {
		color = [3]byte{byte(req.Color.R), byte(req.Color.G), byte(req.Color.B)}
	}

	if !h.registry.SetLineFollowing(name, req.Following, color, "") {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "robot not found"})
	}

	ip := robot.IPAddress
	if req.Following {
		commander.Dispatch(name, func() error { return h.commander.StartLineFollowing(ip, color) })
	} else {
		commander.Dispatch(name, func() error { return h.commander.StopLineFollowing(ip) })
	}

	return c.JSON(fiber.Map{"ok": true})
}

// TurnAround proxies a 180 degree turn command to the robot.
func (h *RobotHandler) TurnAround(c *fiber.Ctx) error {
	name := c.Params("name")

	robot, exists := h.registry.Get(name)
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "robot not found"})
	}

	// The turn-around is the one command whose outcome the operator waits
	// on; transport timeout is the commander's 10s default.
	if err := h.commander.TurnAround(robot.IPAddress); err != nil {
		log.Printf("Turn-around command to robot %s failed: %v", name, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "robot did not accept turn-around"})
	}

	return c.JSON(fiber.Map{"ok": true})
}

// Disconnect removes a robot from the registry and drops its checkpoint.
func (h *RobotHandler) Disconnect(c *fiber.Ctx) error {
	name := c.Params("name")

	if !h.registry.Disconnect(name) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "robot not found"})
	}

	if h.stateRepo != nil {
		if err := h.stateRepo.DeleteRobotState(name); err != nil {
			log.Printf("Failed to delete checkpoint for robot %s: %v", name, err)
		}
	}

	return c.JSON(fiber.Map{"ok": true})
}
