package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// LowHeartRateAlarm is the per-device low heart rate alarm setting.
type LowHeartRateAlarm struct {
	Enabled      bool
	ThresholdBPM uint32
}

// AlarmDeviceRepository reads device alarm configuration.
type AlarmDeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlarmDeviceRepository creates the repository.
func NewAlarmDeviceRepository(db *sql.DB, logger *zap.Logger) *AlarmDeviceRepository {
	return &AlarmDeviceRepository{
		db:     db,
		logger: logger,
	}
}

// monitorConfig mirrors the part of alarm_device.monitor_config used here.
type monitorConfig struct {
	Alarms struct {
		LowHeartRate *struct {
			Enabled   *bool `json:"enabled"`
			Threshold struct {
				BPM *float64 `json:"bpm"`
			} `json:"threshold"`
		} `json:"LowHeartRate"`
	} `json:"alarms"`
}

// GetHeartRateAlarm returns the LowHeartRate alarm of a device, or nil when
// the device has no row or no such alarm configured.
func (r *AlarmDeviceRepository) GetHeartRateAlarm(tenantID, deviceID string) (*LowHeartRateAlarm, error) {
	query := `
		SELECT monitor_config
		FROM alarm_device
		WHERE device_id = $1 AND tenant_id = $2
	`

	var raw []byte
	err := r.db.QueryRow(query, deviceID, tenantID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query alarm_device: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var cfg monitorConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse monitor_config of %s: %w", deviceID, err)
	}
	low := cfg.Alarms.LowHeartRate
	if low == nil {
		return nil, nil
	}

	alarm := &LowHeartRateAlarm{Enabled: true}
	if low.Enabled != nil {
		alarm.Enabled = *low.Enabled
	}
	if low.Threshold.BPM != nil {
		bpm := *low.Threshold.BPM
		if bpm <= 0 || bpm > 300 {
			return nil, fmt.Errorf("invalid LowHeartRate threshold %.0f for %s", bpm, deviceID)
		}
		alarm.ThresholdBPM = uint32(bpm)
	}

	r.logger.Debug("Loaded heart rate alarm",
		zap.String("device_id", deviceID),
		zap.Bool("enabled", alarm.Enabled),
		zap.Uint32("threshold_bpm", alarm.ThresholdBPM),
	)
	return alarm, nil
}
