package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/scheduler"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/services"
)

// RequestHandler serves the customer-facing request lifecycle endpoints
// and the operator pipeline controls.
type RequestHandler struct {
	scheduler *scheduler.Scheduler
	lifecycle *services.RequestService
}

// NewRequestHandler creates a new RequestHandler.
func NewRequestHandler(sched *scheduler.Scheduler, lifecycle *services.RequestService) *RequestHandler {
	return &RequestHandler{
		scheduler: sched,
		lifecycle: lifecycle,
	}
}

// Create creates a new laundry request and attempts immediate assignment.
func (h *RequestHandler) Create(c *fiber.Ctx) error {
	var input scheduler.CreateRequestInput
	if err := c.BodyParser(&input); err != nil || input.CustomerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "customer_id is required"})
	}

	req, err := h.scheduler.CreateRequest(input)
	if err != nil {
		return mapServiceError(c, err)
	}

	response := fiber.Map{"request": req}
	if req.AssignedRobotName == nil {
		response["notice"] = "no robot available, request queued"
	}
	return c.Status(fiber.StatusCreated).JSON(response)
}

// GetActive returns the customer's current active request.
func (h *RequestHandler) GetActive(c *fiber.Ctx) error {
	req, err := h.lifecycle.GetActiveRequest(c.Params("customerID"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to look up active request"})
	}
	if req == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no active request"})
	}
	return c.JSON(req)
}

type confirmLoadedRequest struct {
	WeightKg float64 `json:"weight_kg"`
}

// ConfirmLoaded handles the customer's load confirmation.
func (h *RequestHandler) ConfirmLoaded(c *fiber.Ctx) error {
	var body confirmLoadedRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	req, err := h.lifecycle.ConfirmLoaded(c.Params("id"), body.WeightKg)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(req)
}

// ConfirmUnloaded handles the customer's unload confirmation.
func (h *RequestHandler) ConfirmUnloaded(c *fiber.Ctx) error {
	req, err := h.lifecycle.ConfirmUnloaded(c.Params("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(req)
}

type deliveryOptionRequest struct {
	Option string `json:"option"`
}

// SelectDeliveryOption commits the customer's post-wash choice.
func (h *RequestHandler) SelectDeliveryOption(c *fiber.Ctx) error {
	var body deliveryOptionRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	req, err := h.lifecycle.SelectDeliveryOption(c.Params("id"), body.Option)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(req)
}

type declineRequest struct {
	Reason string `json:"reason"`
}

// Decline rejects a pending request.
func (h *RequestHandler) Decline(c *fiber.Ctx) error {
	var body declineRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	req, err := h.lifecycle.DeclineRequest(c.Params("id"), body.Reason)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(req)
}

type advanceStatusRequest struct {
	Status models.RequestStatus `json:"status"`
}

// AdvanceStatus applies an operator-driven transition.
func (h *RequestHandler) AdvanceStatus(c *fiber.Ctx) error {
	var body advanceStatusRequest
	if err := c.BodyParser(&body); err != nil || body.Status == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "status is required"})
	}

	req, err := h.lifecycle.AdvanceStatus(c.Params("id"), body.Status)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(req)
}

// mapServiceError translates the lifecycle error taxonomy onto HTTP codes.
func mapServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrRequestNotFound), errors.Is(err, services.ErrRobotNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrRequestAlreadyActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrGuardViolation):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNoRobotAvailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}
