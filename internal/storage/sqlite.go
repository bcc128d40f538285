package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the single-node file backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database file at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = "spacewatch.db"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// EnsureSchema creates missing tables.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure sqlite schema: %w", err)
		}
	}
	return nil
}

const sqliteSubscriptionColumns = `subscriber_id, topic, display_name, schedule, status, subscribed_at_ms, last_delivered_at_ms`

// FindSubscription returns the record for (subscriber, topic) regardless of status.
func (s *SQLiteStore) FindSubscription(ctx context.Context, subscriberID string, topic Topic) (Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSubscriptionColumns+` FROM subscriptions WHERE subscriber_id = ? AND topic = ?`,
		subscriberID, string(topic))
	if err != nil {
		return Subscription{}, fmt.Errorf("find subscription: %w", err)
	}
	subs, err := scanSQLiteSubscriptions(rows)
	if err != nil {
		return Subscription{}, err
	}
	if len(subs) == 0 {
		return Subscription{}, ErrNotFound
	}
	return subs[0], nil
}

// UpsertSubscription inserts or updates the (subscriber, topic) record.
func (s *SQLiteStore) UpsertSubscription(ctx context.Context, sub Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (`+sqliteSubscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (subscriber_id, topic) DO UPDATE SET
			display_name = excluded.display_name,
			schedule = excluded.schedule,
			status = excluded.status,
			subscribed_at_ms = excluded.subscribed_at_ms,
			last_delivered_at_ms = excluded.last_delivered_at_ms`,
		sub.SubscriberID,
		string(sub.Topic),
		sub.DisplayName,
		sub.Schedule,
		string(sub.Status),
		toMillis(sub.SubscribedAt),
		nullableMillis(sub.LastDeliveredAt),
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// ListSubscriptionsBySubscriber lists every record of a subscriber.
func (s *SQLiteStore) ListSubscriptionsBySubscriber(ctx context.Context, subscriberID string) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSubscriptionColumns+` FROM subscriptions WHERE subscriber_id = ? ORDER BY topic`,
		subscriberID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by subscriber: %w", err)
	}
	return scanSQLiteSubscriptions(rows)
}

// ListSubscriptionsByTopic lists records of a topic in the given status.
func (s *SQLiteStore) ListSubscriptionsByTopic(ctx context.Context, topic Topic, status Status) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSubscriptionColumns+` FROM subscriptions WHERE topic = ? AND status = ? ORDER BY subscribed_at_ms, subscriber_id`,
		string(topic), string(status))
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by topic: %w", err)
	}
	return scanSQLiteSubscriptions(rows)
}

// MarkDelivered stamps the last successful delivery time.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, subscriberID string, topic Topic, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_delivered_at_ms = ? WHERE subscriber_id = ? AND topic = ?`,
		toMillis(at), subscriberID, string(topic))
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendDelivery writes one delivery audit record.
func (s *SQLiteStore) AppendDelivery(ctx context.Context, rec DeliveryRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_log (id, delivered_at_ms, subscriber_id, topic, preview, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, toMillis(rec.DeliveredAt), rec.SubscriberID, string(rec.Topic), rec.Preview, boolToInt(rec.Success), rec.Error)
	if err != nil {
		return fmt.Errorf("append delivery: %w", err)
	}
	return nil
}

// ListRecentDeliveries lists the newest delivery records first.
func (s *SQLiteStore) ListRecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, delivered_at_ms, subscriber_id, topic, preview, success, error
		FROM delivery_log ORDER BY delivered_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]DeliveryRecord, 0)
	for rows.Next() {
		var (
			rec     DeliveryRecord
			ms      int64
			topic   string
			success int
		)
		if err := rows.Scan(&rec.ID, &ms, &rec.SubscriberID, &topic, &rec.Preview, &success, &rec.Error); err != nil {
			return nil, err
		}
		rec.DeliveredAt = fromMillis(ms)
		rec.Topic = Topic(topic)
		rec.Success = success != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendSolarWind writes one solar-wind row.
func (s *SQLiteStore) AppendSolarWind(ctx context.Context, row SolarWindRow) error {
	return s.exec(ctx, "append solar wind",
		`INSERT INTO solar_wind_history (recorded_at_ms, speed, density, temperature, bx_nt, by_nt, bz_nt, bt_nt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		toMillis(row.RecordedAt), row.Speed, row.Density, row.Temperature, row.Bx, row.By, row.Bz, row.Bt)
}

// AppendGeomagnetic writes one Kp row.
func (s *SQLiteStore) AppendGeomagnetic(ctx context.Context, row GeomagneticRow) error {
	return s.exec(ctx, "append geomagnetic",
		`INSERT INTO geomagnetic_history (recorded_at_ms, kp, level, g_scale) VALUES (?, ?, ?, ?)`,
		toMillis(row.RecordedAt), row.Kp, row.Level, row.GScale)
}

// AppendSatellite writes one satellite position row.
func (s *SQLiteStore) AppendSatellite(ctx context.Context, row SatelliteRow) error {
	return s.exec(ctx, "append satellite",
		`INSERT INTO satellite_history (recorded_at_ms, name, latitude, longitude, altitude, velocity, location)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		toMillis(row.RecordedAt), row.Name, row.Latitude, row.Longitude, row.Altitude, row.Velocity, row.Location)
}

// AppendRadiation writes one radiation row.
func (s *SQLiteStore) AppendRadiation(ctx context.Context, row RadiationRow) error {
	return s.exec(ctx, "append radiation",
		`INSERT INTO radiation_history (recorded_at_ms, xray_flux, flare_class, proton_flux, electron_flux, s_scale)
		VALUES (?, ?, ?, ?, ?, ?)`,
		toMillis(row.RecordedAt), row.XRayFlux, row.FlareClass, row.ProtonFlux, row.ElectronFlux, row.SScale)
}

// ListGeomagneticBetween lists Kp rows within [from, to).
func (s *SQLiteStore) ListGeomagneticBetween(ctx context.Context, from, to time.Time) ([]GeomagneticRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recorded_at_ms, kp, level, g_scale FROM geomagnetic_history
		WHERE recorded_at_ms >= ? AND recorded_at_ms < ? ORDER BY recorded_at_ms`,
		toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("list geomagnetic between: %w", err)
	}
	return scanSQLiteGeomagnetic(rows)
}

// ListRecentGeomagnetic lists the newest Kp rows first.
func (s *SQLiteStore) ListRecentGeomagnetic(ctx context.Context, limit int) ([]GeomagneticRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recorded_at_ms, kp, level, g_scale FROM geomagnetic_history ORDER BY recorded_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent geomagnetic: %w", err)
	}
	return scanSQLiteGeomagnetic(rows)
}

// ListSolarWindBetween lists solar-wind rows within [from, to).
func (s *SQLiteStore) ListSolarWindBetween(ctx context.Context, from, to time.Time) ([]SolarWindRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recorded_at_ms, speed, density, temperature, bx_nt, by_nt, bz_nt, bt_nt FROM solar_wind_history
		WHERE recorded_at_ms >= ? AND recorded_at_ms < ? ORDER BY recorded_at_ms`,
		toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("list solar wind between: %w", err)
	}
	defer rows.Close()

	out := make([]SolarWindRow, 0)
	for rows.Next() {
		var r SolarWindRow
		var ms int64
		if err := rows.Scan(&ms, &r.Speed, &r.Density, &r.Temperature, &r.Bx, &r.By, &r.Bz, &r.Bt); err != nil {
			return nil, err
		}
		r.RecordedAt = fromMillis(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func scanSQLiteSubscriptions(rows *sql.Rows) ([]Subscription, error) {
	defer rows.Close()

	subs := make([]Subscription, 0)
	for rows.Next() {
		var (
			sub       Subscription
			topic     string
			status    string
			createdMS int64
			lastMS    sql.NullInt64
		)
		if err := rows.Scan(&sub.SubscriberID, &topic, &sub.DisplayName, &sub.Schedule, &status, &createdMS, &lastMS); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.Topic = Topic(topic)
		sub.Status = Status(status)
		sub.SubscribedAt = fromMillis(createdMS)
		if lastMS.Valid {
			at := fromMillis(lastMS.Int64)
			sub.LastDeliveredAt = &at
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return subs, nil
}

func scanSQLiteGeomagnetic(rows *sql.Rows) ([]GeomagneticRow, error) {
	defer rows.Close()

	out := make([]GeomagneticRow, 0)
	for rows.Next() {
		var r GeomagneticRow
		var ms int64
		if err := rows.Scan(&ms, &r.Kp, &r.Level, &r.GScale); err != nil {
			return nil, fmt.Errorf("scan geomagnetic: %w", err)
		}
		r.RecordedAt = fromMillis(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Backend = (*SQLiteStore)(nil)
