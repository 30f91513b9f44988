package models

import "time"

// RequestStatus is the closed set of laundry request pipeline states.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusAccepted  RequestStatus = "accepted"
	StatusDeclined  RequestStatus = "declined"
	StatusCancelled RequestStatus = "cancelled"

	StatusRobotEnRoute     RequestStatus = "robot_en_route"
	StatusArrivedAtRoom    RequestStatus = "arrived_at_room"
	StatusLaundryLoaded    RequestStatus = "laundry_loaded"
	StatusReturnedToBase   RequestStatus = "returned_to_base"
	StatusWeighingComplete RequestStatus = "weighing_complete"
	StatusInProgress       RequestStatus = "in_progress"
	StatusPaymentPending   RequestStatus = "payment_pending"

	StatusWashing         RequestStatus = "washing"
	StatusFinishedWashing RequestStatus = "finished_washing"

	StatusFinishedWashingReadyToDeliver RequestStatus = "finished_washing_ready_to_deliver"
	StatusFinishedWashingGoingToRoom    RequestStatus = "finished_washing_going_to_room"
	StatusFinishedWashingArrivedAtRoom  RequestStatus = "finished_washing_arrived_at_room"
	StatusFinishedWashingGoingToBase    RequestStatus = "finished_washing_going_to_base"
	StatusFinishedWashingAtBase         RequestStatus = "finished_washing_at_base"
	StatusFinishedWashingAwaitingPickup RequestStatus = "finished_washing_awaiting_pickup"

	StatusCompleted RequestStatus = "completed"
)

// RequestType distinguishes what service the customer asked for.
type RequestType string

const (
	RequestTypePickup            RequestType = "pickup"
	RequestTypeDelivery          RequestType = "delivery"
	RequestTypePickupAndDelivery RequestType = "pickup_and_delivery"
)

// transitions is the legal edge table of the request state machine. Every
// non-forced status change must traverse one of these edges.
var transitions = map[RequestStatus][]RequestStatus{
	StatusPending: {StatusAccepted, StatusDeclined, StatusCancelled},
	// Accepted may skip straight to ArrivedAtRoom: nothing stamps the
	// en-route step automatically, so arrival telemetry can be the first
	// signal after assignment.
	StatusAccepted: {StatusRobotEnRoute, StatusArrivedAtRoom, StatusCancelled},

	StatusRobotEnRoute:  {StatusArrivedAtRoom, StatusCancelled},
	StatusArrivedAtRoom: {StatusLaundryLoaded, StatusCancelled},
	StatusLaundryLoaded: {StatusReturnedToBase},

	StatusReturnedToBase:   {StatusWeighingComplete, StatusInProgress},
	StatusWeighingComplete: {StatusInProgress, StatusPaymentPending},
	StatusInProgress:       {StatusPaymentPending},
	StatusPaymentPending:   {StatusCompleted, StatusWashing},

	StatusWashing:         {StatusFinishedWashing},
	StatusFinishedWashing: {StatusFinishedWashingReadyToDeliver, StatusFinishedWashingAwaitingPickup},

	StatusFinishedWashingReadyToDeliver: {StatusFinishedWashingGoingToRoom},
	StatusFinishedWashingGoingToRoom:    {StatusFinishedWashingArrivedAtRoom},
	StatusFinishedWashingArrivedAtRoom:  {StatusFinishedWashingGoingToBase},
	StatusFinishedWashingGoingToBase:    {StatusFinishedWashingAtBase},
	StatusFinishedWashingAtBase:         {StatusCompleted},
	StatusFinishedWashingAwaitingPickup: {StatusCompleted},
}

// IsTerminal reports whether no further transition is ever accepted.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusDeclined:
		return true
	}
	return false
}

// CanTransitionTo reports whether the edge s -> next exists in the table.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ActiveForCustomer is the set of statuses that block a customer from
// creating another request.
var ActiveForCustomer = []RequestStatus{
	StatusPending,
	StatusAccepted,
	StatusInProgress,
	StatusRobotEnRoute,
	StatusArrivedAtRoom,
}

// FleetBusyStatuses are the statuses during which no further request may be
// dispatched anywhere in the fleet. Dispatch is serialized fleet-wide.
var FleetBusyStatuses = []RequestStatus{
	StatusAccepted,
	StatusLaundryLoaded,
	StatusArrivedAtRoom,
	StatusFinishedWashingGoingToRoom,
	StatusFinishedWashingGoingToBase,
}

// NavigationStatuses are exempt from orphan cleanup rule (c): a
// freshly-restarted robot may not have reported its task yet while the
// request is mid-navigation.
var NavigationStatuses = []RequestStatus{
	StatusRobotEnRoute,
	StatusArrivedAtRoom,
	StatusLaundryLoaded,
	StatusFinishedWashingGoingToRoom,
	StatusFinishedWashingGoingToBase,
	StatusFinishedWashingArrivedAtRoom,
}

// StatusStrings converts a status set for use in SQL IN clauses.
func StatusStrings(statuses []RequestStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// LaundryRequest is one customer request moving through the pipeline.
type LaundryRequest struct {
	ID           string      `db:"id" json:"id"`
	CustomerID   string      `db:"customer_id" json:"customer_id"`
	CustomerName string      `db:"customer_name" json:"customer_name"`
	Phone        string      `db:"phone" json:"phone"`
	Address      string      `db:"address" json:"address"`
	RoomName     string      `db:"room_name" json:"room_name"`
	Type         RequestType `db:"request_type" json:"request_type"`

	Status            RequestStatus `db:"status" json:"status"`
	AssignedRobotName *string       `db:"assigned_robot_name" json:"assigned_robot_name,omitempty"`

	WeightKg  float64 `db:"weight_kg" json:"weight_kg"`
	TotalCost float64 `db:"total_cost" json:"total_cost"`

	DeclineReason *string `db:"decline_reason" json:"decline_reason,omitempty"`

	RequestedAt       time.Time  `db:"requested_at" json:"requested_at"`
	AcceptedAt        *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	ArrivedAtRoomAt   *time.Time `db:"arrived_at_room_at" json:"arrived_at_room_at,omitempty"`
	LaundryLoadedAt   *time.Time `db:"laundry_loaded_at" json:"laundry_loaded_at,omitempty"`
	ReturnedToBaseAt  *time.Time `db:"returned_to_base_at" json:"returned_to_base_at,omitempty"`
	WashingStartedAt  *time.Time `db:"washing_started_at" json:"washing_started_at,omitempty"`
	FinishedWashingAt *time.Time `db:"finished_washing_at" json:"finished_washing_at,omitempty"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
