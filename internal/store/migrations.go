package store

const schema = `
-- Latest state per device (upserted on every reading)
CREATE TABLE IF NOT EXISTS device_states (
    device_id   TEXT PRIMARY KEY,
    device_name TEXT,
    device_type TEXT,
    status_json TEXT,
    updated_at  TEXT
);

-- Append-only log of state changes (not every poll)
CREATE TABLE IF NOT EXISTS device_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id   TEXT,
    device_name TEXT,
    device_type TEXT,
    status_json TEXT,
    recorded_at TEXT
);

-- SwitchBot sensor time series (every poll/webhook with metrics)
CREATE TABLE IF NOT EXISTS sensor_samples (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id   TEXT NOT NULL,
    device_name TEXT,
    recorded_at TEXT NOT NULL,
    temperature REAL,
    humidity    REAL,
    co2         INTEGER,
    battery     INTEGER
);

-- Netatmo weather station time series
CREATE TABLE IF NOT EXISTS weather_samples (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id       TEXT NOT NULL,
    device_name     TEXT,
    station_name    TEXT,
    module_type     TEXT,
    is_outdoor      INTEGER NOT NULL DEFAULT 0,
    recorded_at     TEXT NOT NULL,
    temperature     REAL,
    humidity        REAL,
    co2             INTEGER,
    pressure        REAL,
    noise           INTEGER,
    wind_strength   REAL,
    wind_angle      REAL,
    gust_strength   REAL,
    rain            REAL,
    rain_1h         REAL,
    rain_24h        REAL,
    battery_percent INTEGER
);

-- Fired alerts (30d retention)
CREATE TABLE IF NOT EXISTS alert_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          INTEGER NOT NULL,
    alert_type  TEXT    NOT NULL,
    device_id   TEXT,
    device_name TEXT,
    message     TEXT    NOT NULL,
    severity    TEXT    NOT NULL
);

-- Secondary indexes
CREATE INDEX IF NOT EXISTS idx_history_device ON device_history(device_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_sensor_device ON sensor_samples(device_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_weather_device ON weather_samples(device_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_alert_ts ON alert_log(ts);
`
