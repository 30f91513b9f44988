package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
)

// RobotStateRepository defines operations for robot checkpoint persistence
type RobotStateRepository interface {
	UpsertRobotState(state *models.RobotState) error
	GetAllRobotStates() ([]*models.RobotState, error)
	DeleteRobotState(robotName string) error
}

type robotStateRepository struct {
	db *sqlx.DB
}

// NewRobotStateRepository creates a new robot state repository
func NewRobotStateRepository(db *sqlx.DB) RobotStateRepository {
	return &robotStateRepository{db: db}
}

// UpsertRobotState writes the checkpoint row for a robot, keyed by name
func (r *robotStateRepository) UpsertRobotState(state *models.RobotState) error {
	query := `
		INSERT INTO robot_states (
			robot_name, ip_address, is_following_line,
			follow_color_r, follow_color_g, follow_color_b,
			nearest_beacon_mac, nearest_room, updated_at
		) VALUES (
			:robot_name, :ip_address, :is_following_line,
			:follow_color_r, :follow_color_g, :follow_color_b,
			:nearest_beacon_mac, :nearest_room, :updated_at
		)
		ON CONFLICT(robot_name) DO UPDATE SET
			ip_address = excluded.ip_address,
			is_following_line = excluded.is_following_line,
			follow_color_r = excluded.follow_color_r,
			follow_color_g = excluded.follow_color_g,
			follow_color_b = excluded.follow_color_b,
			nearest_beacon_mac = excluded.nearest_beacon_mac,
			nearest_room = excluded.nearest_room,
			updated_at = excluded.updated_at
	`

	_, err := r.db.NamedExec(query, state)
	if err != nil {
		return fmt.Errorf("failed to upsert robot state for %s: %w", state.RobotName, err)
	}

	return nil
}

// GetAllRobotStates reads every checkpoint row for startup recovery seeding
func (r *robotStateRepository) GetAllRobotStates() ([]*models.RobotState, error) {
	var states []*models.RobotState
	query := `SELECT * FROM robot_states ORDER BY robot_name ASC`

	err := r.db.Select(&states, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get robot states: %w", err)
	}

	return states, nil
}

// DeleteRobotState removes a checkpoint row when a robot is disconnected
func (r *robotStateRepository) DeleteRobotState(robotName string) error {
	query := `DELETE FROM robot_states WHERE robot_name = ?`

	_, err := r.db.Exec(query, robotName)
	if err != nil {
		return fmt.Errorf("failed to delete robot state for %s: %w", robotName, err)
	}

	return nil
}
