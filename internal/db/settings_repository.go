package db

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
)

// SettingsRepository reads the external settings row. The core never
// mutates settings; writes belong to the admin surface outside this
// service.
type SettingsRepository interface {
	GetSettings() (models.Settings, error)
}

type settingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *sqlx.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

// GetSettings reads the single settings row, falling back to defaults when
// none has been written yet.
func (r *settingsRepository) GetSettings() (models.Settings, error) {
	var settings models.Settings
	query := `SELECT auto_accept_requests, rate_per_kg, room_arrival_timeout_minutes FROM settings WHERE id = 1`

	err := r.db.Get(&settings, query)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.DefaultSettings(), nil
		}
		return models.DefaultSettings(), fmt.Errorf("failed to get settings: %w", err)
	}

	return settings, nil
}
