package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
)

// RequestRepository defines operations for laundry request persistence
type RequestRepository interface {
	CreateRequest(req *models.LaundryRequest) error
	GetRequestByID(id string) (*models.LaundryRequest, error)

	// GetActiveByCustomer returns the customer's request in one of the
	// given statuses, or nil when none exists.
	GetActiveByCustomer(customerID string, statuses []models.RequestStatus) (*models.LaundryRequest, error)

	// AnyInStatuses reports whether any request fleet-wide holds one of
	// the given statuses.
	AnyInStatuses(statuses []models.RequestStatus) (bool, error)

	// OldestPending returns the pending request with the earliest
	// requested_at, or nil when the queue is empty.
	OldestPending() (*models.LaundryRequest, error)

	// GetNonTerminalByRobot returns the robot's current non-terminal
	// request, or nil.
	GetNonTerminalByRobot(robotName string) (*models.LaundryRequest, error)

	// GetArrivalTimedOut returns requests sitting in an arrived-at-room
	// status since before the cutoff.
	GetArrivalTimedOut(cutoff time.Time) ([]*models.LaundryRequest, error)

	// GetOrphanCandidates returns assigned, non-terminal requests
	// requested before the cutoff.
	GetOrphanCandidates(cutoff time.Time) ([]*models.LaundryRequest, error)

	// CompareAndUpdate persists the request row only if its stored status
	// still equals expected. Returns false on a lost race.
	CompareAndUpdate(req *models.LaundryRequest, expected models.RequestStatus) (bool, error)
}

type requestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sqlx.DB) RequestRepository {
	return &requestRepository{db: db}
}

// CreateRequest inserts a new request into the database
func (r *requestRepository) CreateRequest(req *models.LaundryRequest) error {
	query := `
		INSERT INTO requests (
			id, customer_id, customer_name, phone, address, room_name,
			request_type, status, assigned_robot_name, weight_kg, total_cost,
			decline_reason, requested_at, accepted_at, arrived_at_room_at,
			laundry_loaded_at, returned_to_base_at, washing_started_at,
			finished_washing_at, completed_at, updated_at
		) VALUES (
			:id, :customer_id, :customer_name, :phone, :address, :room_name,
			:request_type, :status, :assigned_robot_name, :weight_kg, :total_cost,
			:decline_reason, :requested_at, :accepted_at, :arrived_at_room_at,
			:laundry_loaded_at, :returned_to_base_at, :washing_started_at,
			:finished_washing_at, :completed_at, :updated_at
		)
	`

	_, err := r.db.NamedExec(query, req)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return nil
}

// GetRequestByID retrieves a request by ID
func (r *requestRepository) GetRequestByID(id string) (*models.LaundryRequest, error) {
	var req models.LaundryRequest
	query := `SELECT * FROM requests WHERE id = ?`

	err := r.db.Get(&req, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("request not found with id %s: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get request by id: %w", err)
	}

	return &req, nil
}

func (r *requestRepository) GetActiveByCustomer(customerID string, statuses []models.RequestStatus) (*models.LaundryRequest, error) {
	query, args, err := sqlx.In(
		`SELECT * FROM requests WHERE customer_id = ? AND status IN (?) ORDER BY requested_at DESC LIMIT 1`,
		customerID, models.StatusStrings(statuses),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build active-request query: %w", err)
	}

	var req models.LaundryRequest
	err = r.db.Get(&req, r.db.Rebind(query), args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active request for customer %s: %w", customerID, err)
	}

	return &req, nil
}

func (r *requestRepository) AnyInStatuses(statuses []models.RequestStatus) (bool, error) {
	query, args, err := sqlx.In(
		`SELECT COUNT(*) FROM requests WHERE status IN (?)`,
		models.StatusStrings(statuses),
	)
	if err != nil {
		return false, fmt.Errorf("failed to build status count query: %w", err)
	}

	var count int
	if err := r.db.Get(&count, r.db.Rebind(query), args...); err != nil {
		return false, fmt.Errorf("failed to count requests by status: %w", err)
	}

	return count > 0, nil
}

func (r *requestRepository) OldestPending() (*models.LaundryRequest, error) {
	var req models.LaundryRequest
	query := `SELECT * FROM requests WHERE status = ? ORDER BY requested_at ASC LIMIT 1`

	err := r.db.Get(&req, query, models.StatusPending)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get oldest pending request: %w", err)
	}

	return &req, nil
}

func (r *requestRepository) GetNonTerminalByRobot(robotName string) (*models.LaundryRequest, error) {
	var req models.LaundryRequest
	query := `
		SELECT * FROM requests
		WHERE assigned_robot_name = ? AND status NOT IN (?, ?, ?)
		ORDER BY requested_at ASC LIMIT 1
	`

	err := r.db.Get(&req, query, robotName,
		models.StatusCompleted, models.StatusCancelled, models.StatusDeclined)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get request for robot %s: %w", robotName, err)
	}

	return &req, nil
}

func (r *requestRepository) GetArrivalTimedOut(cutoff time.Time) ([]*models.LaundryRequest, error) {
	var reqs []*models.LaundryRequest
	query := `
		SELECT * FROM requests
		WHERE status IN (?, ?)
		  AND arrived_at_room_at IS NOT NULL
		  AND arrived_at_room_at < ?
		ORDER BY arrived_at_room_at ASC
	`

	err := r.db.Select(&reqs, query,
		models.StatusArrivedAtRoom, models.StatusFinishedWashingArrivedAtRoom, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get arrival-timed-out requests: %w", err)
	}

	return reqs, nil
}

func (r *requestRepository) GetOrphanCandidates(cutoff time.Time) ([]*models.LaundryRequest, error) {
	var reqs []*models.LaundryRequest
	query := `
		SELECT * FROM requests
		WHERE assigned_robot_name IS NOT NULL
		  AND status NOT IN (?, ?, ?)
		  AND requested_at < ?
		ORDER BY requested_at ASC
	`

	err := r.db.Select(&reqs, query,
		models.StatusCompleted, models.StatusCancelled, models.StatusDeclined, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get orphan candidates: %w", err)
	}

	return reqs, nil
}

// CompareAndUpdate writes the full request row guarded by the expected
// status so two callers can never double-transition the same request.
func (r *requestRepository) CompareAndUpdate(req *models.LaundryRequest, expected models.RequestStatus) (bool, error) {
	req.UpdatedAt = time.Now()

	query := `
		UPDATE requests SET
			customer_name = :customer_name,
			phone = :phone,
			address = :address,
			room_name = :room_name,
			request_type = :request_type,
			status = :status,
			assigned_robot_name = :assigned_robot_name,
			weight_kg = :weight_kg,
			total_cost = :total_cost,
			decline_reason = :decline_reason,
			accepted_at = :accepted_at,
			arrived_at_room_at = :arrived_at_room_at,
			laundry_loaded_at = :laundry_loaded_at,
			returned_to_base_at = :returned_to_base_at,
			washing_started_at = :washing_started_at,
			finished_washing_at = :finished_washing_at,
			completed_at = :completed_at,
			updated_at = :updated_at
		WHERE id = :id AND status = :expected_status
	`

	result, err := r.db.NamedExec(query, struct {
		*models.LaundryRequest
		ExpectedStatus models.RequestStatus `db:"expected_status"`
	}{req, expected})
	if err != nil {
		return false, fmt.Errorf("failed to update request %s: %w", req.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
