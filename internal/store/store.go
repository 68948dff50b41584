// Package store provides SQLite persistence for switchbot-hub.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tubone24/switchbot-hub/internal/change"
	"github.com/tubone24/switchbot-hub/internal/model"
	_ "modernc.org/sqlite"
)

// timeLayout is the stored timestamp format (UTC ISO-8601). Lexicographic
// ordering of these strings matches chronological ordering.
const timeLayout = time.RFC3339

// Store wraps a SQLite database for device state and sample persistence.
type Store struct {
	db *sql.DB
}

// New opens or creates a SQLite database at the given path and creates the
// schema idempotently.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetState returns the stored state for a device, or nil if never seen.
func (s *Store) GetState(deviceID string) (*model.DeviceState, error) {
	row := s.db.QueryRow(`
		SELECT device_id, device_name, device_type, status_json, updated_at
		FROM device_states WHERE device_id = ?`, deviceID)
	st, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying device state %s: %w", deviceID, err)
	}
	return st, nil
}

// SaveState upserts the current state of a device and returns whether the
// status differs from the previously stored one. On change a HistoryEvent
// row is appended in the same transaction, so the upsert and the history
// append are never visible half-done.
func (s *Store) SaveState(deviceID, deviceName, deviceType string, status model.Status, at time.Time) (bool, error) {
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return false, fmt.Errorf("marshaling status for %s: %w", deviceID, err)
	}
	now := at.UTC().Format(timeLayout)

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var prevJSON sql.NullString
	err = tx.QueryRow(`SELECT status_json FROM device_states WHERE device_id = ?`, deviceID).Scan(&prevJSON)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("reading previous state %s: %w", deviceID, err)
	}

	var prev model.Status
	if prevJSON.Valid && prevJSON.String != "" {
		if err := json.Unmarshal([]byte(prevJSON.String), &prev); err != nil {
			return false, fmt.Errorf("decoding previous state %s: %w", deviceID, err)
		}
	}

	changed := change.HasChanged(prev, status)

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO device_states
		(device_id, device_name, device_type, status_json, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		deviceID, deviceName, deviceType, string(statusJSON), now,
	); err != nil {
		return false, fmt.Errorf("upserting device state %s: %w", deviceID, err)
	}

	if changed {
		if _, err := tx.Exec(`
			INSERT INTO device_history
			(device_id, device_name, device_type, status_json, recorded_at)
			VALUES (?, ?, ?, ?, ?)`,
			deviceID, deviceName, deviceType, string(statusJSON), now,
		); err != nil {
			return false, fmt.Errorf("appending history for %s: %w", deviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing state for %s: %w", deviceID, err)
	}
	return changed, nil
}

// AllStates returns every tracked device, ordered by name.
func (s *Store) AllStates() ([]model.DeviceState, error) {
	rows, err := s.db.Query(`
		SELECT device_id, device_name, device_type, status_json, updated_at
		FROM device_states ORDER BY device_name`)
	if err != nil {
		return nil, fmt.Errorf("querying device states: %w", err)
	}
	defer rows.Close()

	var states []model.DeviceState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device state: %w", err)
		}
		states = append(states, *st)
	}
	return states, rows.Err()
}

// History returns the most recent state changes for a device, newest first.
func (s *Store) History(deviceID string, limit int) ([]model.HistoryEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, device_id, device_name, device_type, status_json, recorded_at
		FROM device_history
		WHERE device_id = ?
		ORDER BY recorded_at DESC
		LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var events []model.HistoryEvent
	for rows.Next() {
		var ev model.HistoryEvent
		var statusJSON sql.NullString
		var recordedAt string
		if err := rows.Scan(&ev.ID, &ev.DeviceID, &ev.DeviceName, &ev.DeviceType, &statusJSON, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning history event: %w", err)
		}
		if statusJSON.Valid && statusJSON.String != "" {
			if err := json.Unmarshal([]byte(statusJSON.String), &ev.Status); err != nil {
				return nil, fmt.Errorf("decoding history status: %w", err)
			}
		}
		ev.RecordedAt, _ = time.Parse(timeLayout, recordedAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AppendSensorSample inserts a SwitchBot sensor reading. It is a no-op and
// returns false when the sample carries no metrics.
func (s *Store) AppendSensorSample(sample model.SensorSample) (bool, error) {
	if !sample.HasMetrics() {
		return false, nil
	}
	_, err := s.db.Exec(`
		INSERT INTO sensor_samples
		(device_id, device_name, recorded_at, temperature, humidity, co2, battery)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sample.DeviceID, sample.DeviceName, sample.RecordedAt.UTC().Format(timeLayout),
		sample.Temperature, sample.Humidity, sample.CO2, sample.Battery,
	)
	if err != nil {
		return false, fmt.Errorf("inserting sensor sample for %s: %w", sample.DeviceID, err)
	}
	return true, nil
}

// AppendWeatherSample inserts a Netatmo module reading. It is a no-op and
// returns false when the sample carries no metrics.
func (s *Store) AppendWeatherSample(sample model.WeatherSample) (bool, error) {
	if !sample.HasMetrics() {
		return false, nil
	}
	outdoor := 0
	if sample.IsOutdoor {
		outdoor = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO weather_samples
		(device_id, device_name, station_name, module_type, is_outdoor, recorded_at,
		 temperature, humidity, co2, pressure, noise,
		 wind_strength, wind_angle, gust_strength, rain, rain_1h, rain_24h, battery_percent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sample.DeviceID, sample.DeviceName, sample.StationName, sample.ModuleType,
		outdoor, sample.RecordedAt.UTC().Format(timeLayout),
		sample.Temperature, sample.Humidity, sample.CO2, sample.Pressure, sample.Noise,
		sample.WindStrength, sample.WindAngle, sample.GustStrength,
		sample.Rain, sample.Rain1h, sample.Rain24h, sample.BatteryPercent,
	)
	if err != nil {
		return false, fmt.Errorf("inserting weather sample for %s: %w", sample.DeviceID, err)
	}
	return true, nil
}

const weatherColumns = `device_id, device_name, station_name, module_type, is_outdoor, recorded_at,
	temperature, humidity, co2, pressure, noise,
	wind_strength, wind_angle, gust_strength, rain, rain_1h, rain_24h, battery_percent`

// LatestWeatherSamples returns the most recent n samples for a device,
// newest first.
func (s *Store) LatestWeatherSamples(deviceID string, n int) ([]model.WeatherSample, error) {
	rows, err := s.db.Query(`
		SELECT `+weatherColumns+` FROM weather_samples
		WHERE device_id = ?
		ORDER BY recorded_at DESC
		LIMIT ?`, deviceID, n)
	if err != nil {
		return nil, fmt.Errorf("querying weather samples for %s: %w", deviceID, err)
	}
	defer rows.Close()
	return scanWeatherSamples(rows)
}

// WeatherSampleNear returns the sample closest to target within the given
// tolerance, or nil when none qualifies.
func (s *Store) WeatherSampleNear(deviceID string, target time.Time, tolerance time.Duration) (*model.WeatherSample, error) {
	lo := target.Add(-tolerance).UTC().Format(timeLayout)
	hi := target.Add(tolerance).UTC().Format(timeLayout)
	rows, err := s.db.Query(`
		SELECT `+weatherColumns+` FROM weather_samples
		WHERE device_id = ? AND recorded_at >= ? AND recorded_at <= ?
		ORDER BY ABS(strftime('%s', recorded_at) - ?)
		LIMIT 1`, deviceID, lo, hi, target.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying nearest weather sample for %s: %w", deviceID, err)
	}
	defer rows.Close()

	samples, err := scanWeatherSamples(rows)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}
	return &samples[0], nil
}

// WeatherDevice identifies a device present in the weather time series.
type WeatherDevice struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	ModuleType string `json:"module_type"`
	IsOutdoor  bool   `json:"is_outdoor"`
}

// WeatherDevices returns the distinct devices with weather samples.
func (s *Store) WeatherDevices() ([]WeatherDevice, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT device_id, device_name, module_type, is_outdoor
		FROM weather_samples ORDER BY device_name`)
	if err != nil {
		return nil, fmt.Errorf("querying weather devices: %w", err)
	}
	defer rows.Close()

	var devices []WeatherDevice
	for rows.Next() {
		var d WeatherDevice
		var outdoor int
		if err := rows.Scan(&d.DeviceID, &d.DeviceName, &d.ModuleType, &outdoor); err != nil {
			return nil, fmt.Errorf("scanning weather device: %w", err)
		}
		d.IsOutdoor = outdoor != 0
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// SensorDevice identifies a device present in the sensor time series.
type SensorDevice struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

// SensorDevices returns the distinct devices with sensor samples.
func (s *Store) SensorDevices() ([]SensorDevice, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT device_id, device_name
		FROM sensor_samples ORDER BY device_name`)
	if err != nil {
		return nil, fmt.Errorf("querying sensor devices: %w", err)
	}
	defer rows.Close()

	var devices []SensorDevice
	for rows.Next() {
		var d SensorDevice
		if err := rows.Scan(&d.DeviceID, &d.DeviceName); err != nil {
			return nil, fmt.Errorf("scanning sensor device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// SensorSeries returns a device's sensor samples for one UTC calendar date
// (YYYY-MM-DD), oldest first.
func (s *Store) SensorSeries(deviceID, date string) ([]model.SensorSample, error) {
	rows, err := s.db.Query(`
		SELECT device_id, device_name, recorded_at, temperature, humidity, co2, battery
		FROM sensor_samples
		WHERE device_id = ? AND date(recorded_at) = date(?)
		ORDER BY recorded_at ASC`, deviceID, date)
	if err != nil {
		return nil, fmt.Errorf("querying sensor series for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var samples []model.SensorSample
	for rows.Next() {
		var sample model.SensorSample
		var recordedAt string
		var temp, humid sql.NullFloat64
		var co2, battery sql.NullInt64
		if err := rows.Scan(&sample.DeviceID, &sample.DeviceName, &recordedAt, &temp, &humid, &co2, &battery); err != nil {
			return nil, fmt.Errorf("scanning sensor sample: %w", err)
		}
		sample.RecordedAt, _ = time.Parse(timeLayout, recordedAt)
		sample.Temperature = nullFloat(temp)
		sample.Humidity = nullFloat(humid)
		sample.CO2 = nullInt(co2)
		sample.Battery = nullInt(battery)
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// DailySensorSummary returns min/max/avg statistics for a device on one UTC
// calendar date, or nil when the device has no samples that day.
func (s *Store) DailySensorSummary(deviceID, date string) (*model.DailySummary, error) {
	row := s.db.QueryRow(`
		SELECT
			COUNT(*),
			MIN(temperature), MAX(temperature), AVG(temperature),
			MIN(humidity), MAX(humidity), AVG(humidity),
			MIN(co2), MAX(co2), AVG(co2)
		FROM sensor_samples
		WHERE device_id = ? AND date(recorded_at) = date(?)`, deviceID, date)

	var count int
	var tMin, tMax, tAvg, hMin, hMax, hAvg, cMin, cMax, cAvg sql.NullFloat64
	if err := row.Scan(&count, &tMin, &tMax, &tAvg, &hMin, &hMax, &hAvg, &cMin, &cMax, &cAvg); err != nil {
		return nil, fmt.Errorf("querying daily summary for %s: %w", deviceID, err)
	}
	if count == 0 {
		return nil, nil
	}
	return &model.DailySummary{
		Date:        date,
		Count:       count,
		Temperature: model.MetricSummary{Min: nullFloat(tMin), Max: nullFloat(tMax), Avg: nullFloat(tAvg)},
		Humidity:    model.MetricSummary{Min: nullFloat(hMin), Max: nullFloat(hMax), Avg: nullFloat(hAvg)},
		CO2:         model.MetricSummary{Min: nullFloat(cMin), Max: nullFloat(cMax), Avg: nullFloat(cAvg)},
	}, nil
}

// InsertAlert logs a fired alert.
func (s *Store) InsertAlert(ts int64, alertType, deviceID, deviceName, message, severity string) error {
	_, err := s.db.Exec(`
		INSERT INTO alert_log (ts, alert_type, device_id, device_name, message, severity)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ts, alertType, deviceID, deviceName, message, severity,
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// PruneHistory deletes history events older than the given day count and
// returns the number deleted.
func (s *Store) PruneHistory(olderThanDays int) (int64, error) {
	return s.pruneByDate("device_history", "recorded_at", olderThanDays)
}

// PruneSamples deletes sensor and weather samples older than the given day
// count and returns the total number deleted.
func (s *Store) PruneSamples(olderThanDays int) (int64, error) {
	n1, err := s.pruneByDate("sensor_samples", "recorded_at", olderThanDays)
	if err != nil {
		return n1, err
	}
	n2, err := s.pruneByDate("weather_samples", "recorded_at", olderThanDays)
	return n1 + n2, err
}

// PruneAlerts deletes alert log rows older than the given day count.
func (s *Store) PruneAlerts(olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).Unix()
	result, err := s.db.Exec(`DELETE FROM alert_log WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning alert_log: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) pruneByDate(table, column string, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format(timeLayout)
	result, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, column), cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning %s: %w", table, err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*model.DeviceState, error) {
	var st model.DeviceState
	var statusJSON sql.NullString
	var updatedAt string
	if err := row.Scan(&st.DeviceID, &st.DeviceName, &st.DeviceType, &statusJSON, &updatedAt); err != nil {
		return nil, err
	}
	if statusJSON.Valid && statusJSON.String != "" {
		if err := json.Unmarshal([]byte(statusJSON.String), &st.Status); err != nil {
			return nil, fmt.Errorf("decoding status: %w", err)
		}
	}
	st.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &st, nil
}

func scanWeatherSamples(rows *sql.Rows) ([]model.WeatherSample, error) {
	var samples []model.WeatherSample
	for rows.Next() {
		var sample model.WeatherSample
		var outdoor int
		var recordedAt string
		var temp, pressure, windStr, windAng, gustStr, rain, rain1h, rain24h, humid sql.NullFloat64
		var co2, noise, battery sql.NullInt64
		if err := rows.Scan(
			&sample.DeviceID, &sample.DeviceName, &sample.StationName, &sample.ModuleType,
			&outdoor, &recordedAt,
			&temp, &humid, &co2, &pressure, &noise,
			&windStr, &windAng, &gustStr, &rain, &rain1h, &rain24h, &battery,
		); err != nil {
			return nil, fmt.Errorf("scanning weather sample: %w", err)
		}
		sample.IsOutdoor = outdoor != 0
		sample.RecordedAt, _ = time.Parse(timeLayout, recordedAt)
		sample.Temperature = nullFloat(temp)
		sample.Humidity = nullFloat(humid)
		sample.CO2 = nullInt(co2)
		sample.Pressure = nullFloat(pressure)
		sample.Noise = nullInt(noise)
		sample.WindStrength = nullFloat(windStr)
		sample.WindAngle = nullFloat(windAng)
		sample.GustStrength = nullFloat(gustStr)
		sample.Rain = nullFloat(rain)
		sample.Rain1h = nullFloat(rain1h)
		sample.Rain24h = nullFloat(rain24h)
		sample.BatteryPercent = nullInt(battery)
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
