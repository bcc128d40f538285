package storage

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
        subscriber_id     TEXT NOT NULL,
        topic             TEXT NOT NULL,
        display_name      TEXT NOT NULL DEFAULT '',
        schedule          TEXT NOT NULL DEFAULT '',
        status            TEXT NOT NULL,
        subscribed_at     TIMESTAMPTZ NOT NULL,
        last_delivered_at TIMESTAMPTZ,
        PRIMARY KEY (subscriber_id, topic)
    )`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_topic_status ON subscriptions (topic, status)`,
	`CREATE TABLE IF NOT EXISTS delivery_log (
        id            TEXT PRIMARY KEY,
        delivered_at  TIMESTAMPTZ NOT NULL,
        subscriber_id TEXT NOT NULL,
        topic         TEXT NOT NULL,
        preview       TEXT NOT NULL,
        success       BOOLEAN NOT NULL,
        error         TEXT NOT NULL DEFAULT ''
    )`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_log_ts ON delivery_log (delivered_at)`,
	`CREATE TABLE IF NOT EXISTS solar_wind_history (
        recorded_at TIMESTAMPTZ NOT NULL,
        speed       DOUBLE PRECISION NOT NULL,
        density     DOUBLE PRECISION NOT NULL,
        temperature DOUBLE PRECISION NOT NULL,
        bx_nt       DOUBLE PRECISION NOT NULL,
        by_nt       DOUBLE PRECISION NOT NULL,
        bz_nt       DOUBLE PRECISION NOT NULL,
        bt_nt       DOUBLE PRECISION NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS geomagnetic_history (
        recorded_at TIMESTAMPTZ NOT NULL,
        kp          DOUBLE PRECISION NOT NULL,
        level       TEXT NOT NULL,
        g_scale     TEXT NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS satellite_history (
        recorded_at TIMESTAMPTZ NOT NULL,
        name        TEXT NOT NULL,
        latitude    DOUBLE PRECISION NOT NULL,
        longitude   DOUBLE PRECISION NOT NULL,
        altitude    DOUBLE PRECISION NOT NULL,
        velocity    DOUBLE PRECISION NOT NULL,
        location    TEXT NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS radiation_history (
        recorded_at   TIMESTAMPTZ NOT NULL,
        xray_flux     DOUBLE PRECISION NOT NULL,
        flare_class   TEXT NOT NULL,
        proton_flux   DOUBLE PRECISION NOT NULL,
        electron_flux DOUBLE PRECISION NOT NULL,
        s_scale       TEXT NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_geomagnetic_history_ts ON geomagnetic_history (recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_solar_wind_history_ts ON solar_wind_history (recorded_at)`,
}

// SQLite stores timestamps as unix milliseconds.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
        subscriber_id        TEXT NOT NULL,
        topic                TEXT NOT NULL,
        display_name         TEXT NOT NULL DEFAULT '',
        schedule             TEXT NOT NULL DEFAULT '',
        status               TEXT NOT NULL,
        subscribed_at_ms     INTEGER NOT NULL,
        last_delivered_at_ms INTEGER,
        PRIMARY KEY (subscriber_id, topic)
    )`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_topic_status ON subscriptions (topic, status)`,
	`CREATE TABLE IF NOT EXISTS delivery_log (
        id              TEXT PRIMARY KEY,
        delivered_at_ms INTEGER NOT NULL,
        subscriber_id   TEXT NOT NULL,
        topic           TEXT NOT NULL,
        preview         TEXT NOT NULL,
        success         INTEGER NOT NULL,
        error           TEXT NOT NULL DEFAULT ''
    )`,
	`CREATE TABLE IF NOT EXISTS solar_wind_history (
        recorded_at_ms INTEGER NOT NULL,
        speed REAL NOT NULL, density REAL NOT NULL, temperature REAL NOT NULL,
        bx_nt REAL NOT NULL, by_nt REAL NOT NULL, bz_nt REAL NOT NULL, bt_nt REAL NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS geomagnetic_history (
        recorded_at_ms INTEGER NOT NULL,
        kp REAL NOT NULL, level TEXT NOT NULL, g_scale TEXT NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS satellite_history (
        recorded_at_ms INTEGER NOT NULL,
        name TEXT NOT NULL, latitude REAL NOT NULL, longitude REAL NOT NULL,
        altitude REAL NOT NULL, velocity REAL NOT NULL, location TEXT NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS radiation_history (
        recorded_at_ms INTEGER NOT NULL,
        xray_flux REAL NOT NULL, flare_class TEXT NOT NULL, proton_flux REAL NOT NULL,
        electron_flux REAL NOT NULL, s_scale TEXT NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_geomagnetic_history_ts ON geomagnetic_history (recorded_at_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_solar_wind_history_ts ON solar_wind_history (recorded_at_ms)`,
}
