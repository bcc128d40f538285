package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	findSubscriptionSQL = `SELECT subscriber_id, topic, display_name, schedule, status, subscribed_at, last_delivered_at
    FROM subscriptions
    WHERE subscriber_id = $1 AND topic = $2;`

	upsertSubscriptionSQL = `INSERT INTO subscriptions (
        subscriber_id,
        topic,
        display_name,
        schedule,
        status,
        subscribed_at,
        last_delivered_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (subscriber_id, topic) DO UPDATE
    SET
        display_name      = EXCLUDED.display_name,
        schedule          = EXCLUDED.schedule,
        status            = EXCLUDED.status,
        subscribed_at     = EXCLUDED.subscribed_at,
        last_delivered_at = EXCLUDED.last_delivered_at;`

	listSubscriptionsBySubscriberSQL = `SELECT subscriber_id, topic, display_name, schedule, status, subscribed_at, last_delivered_at
    FROM subscriptions
    WHERE subscriber_id = $1
    ORDER BY topic;`

	listSubscriptionsByTopicSQL = `SELECT subscriber_id, topic, display_name, schedule, status, subscribed_at, last_delivered_at
    FROM subscriptions
    WHERE topic = $1 AND status = $2
    ORDER BY subscribed_at, subscriber_id;`

	markDeliveredSQL = `UPDATE subscriptions SET last_delivered_at = $3
    WHERE subscriber_id = $1 AND topic = $2;`

	insertDeliverySQL = `INSERT INTO delivery_log (id, delivered_at, subscriber_id, topic, preview, success, error)
    VALUES ($1,$2,$3,$4,$5,$6,$7);`

	listRecentDeliveriesSQL = `SELECT id, delivered_at, subscriber_id, topic, preview, success, error
    FROM delivery_log
    ORDER BY delivered_at DESC
    LIMIT $1;`

	insertSolarWindSQL = `INSERT INTO solar_wind_history (recorded_at, speed, density, temperature, bx_nt, by_nt, bz_nt, bt_nt)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`

	insertGeomagneticSQL = `INSERT INTO geomagnetic_history (recorded_at, kp, level, g_scale)
    VALUES ($1,$2,$3,$4);`

	insertSatelliteSQL = `INSERT INTO satellite_history (recorded_at, name, latitude, longitude, altitude, velocity, location)
    VALUES ($1,$2,$3,$4,$5,$6,$7);`

	insertRadiationSQL = `INSERT INTO radiation_history (recorded_at, xray_flux, flare_class, proton_flux, electron_flux, s_scale)
    VALUES ($1,$2,$3,$4,$5,$6);`

	listGeomagneticBetweenSQL = `SELECT recorded_at, kp, level, g_scale
    FROM geomagnetic_history
    WHERE recorded_at >= $1 AND recorded_at < $2
    ORDER BY recorded_at;`

	listRecentGeomagneticSQL = `SELECT recorded_at, kp, level, g_scale
    FROM geomagnetic_history
    ORDER BY recorded_at DESC
    LIMIT $1;`

	listSolarWindBetweenSQL = `SELECT recorded_at, speed, density, temperature, bx_nt, by_nt, bz_nt, bt_nt
    FROM solar_wind_history
    WHERE recorded_at >= $1 AND recorded_at < $2
    ORDER BY recorded_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SubscriptionRepository is the row-level access to subscription records.
type SubscriptionRepository interface {
	FindSubscription(ctx context.Context, subscriberID string, topic Topic) (Subscription, error)
	UpsertSubscription(ctx context.Context, sub Subscription) error
	ListSubscriptionsBySubscriber(ctx context.Context, subscriberID string) ([]Subscription, error)
	ListSubscriptionsByTopic(ctx context.Context, topic Topic, status Status) ([]Subscription, error)
	MarkDelivered(ctx context.Context, subscriberID string, topic Topic, at time.Time) error
}

// DeliveryLog appends delivery audit records.
type DeliveryLog interface {
	AppendDelivery(ctx context.Context, rec DeliveryRecord) error
	ListRecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)
}

// HistoryStore persists per-category time-series rows.
type HistoryStore interface {
	AppendSolarWind(ctx context.Context, row SolarWindRow) error
	AppendGeomagnetic(ctx context.Context, row GeomagneticRow) error
	AppendSatellite(ctx context.Context, row SatelliteRow) error
	AppendRadiation(ctx context.Context, row RadiationRow) error
	ListGeomagneticBetween(ctx context.Context, from, to time.Time) ([]GeomagneticRow, error)
	ListRecentGeomagnetic(ctx context.Context, limit int) ([]GeomagneticRow, error)
	ListSolarWindBetween(ctx context.Context, from, to time.Time) ([]SolarWindRow, error)
}

// Backend bundles every persistence concern behind one closable handle.
type Backend interface {
	SubscriptionRepository
	DeliveryLog
	HistoryStore
	EnsureSchema(ctx context.Context) error
	Close()
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// FindSubscription returns the record for (subscriber, topic) regardless of status.
func (s *Store) FindSubscription(ctx context.Context, subscriberID string, topic Topic) (Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subscription{}, err
	}
	rows, err := pool.Query(ctx, findSubscriptionSQL, subscriberID, string(topic))
	if err != nil {
		return Subscription{}, fmt.Errorf("find subscription: %w", err)
	}
	subs, err := collectSubscriptions(rows)
	if err != nil {
		return Subscription{}, err
	}
	if len(subs) == 0 {
		return Subscription{}, ErrNotFound
	}
	return subs[0], nil
}

// UpsertSubscription inserts or updates the (subscriber, topic) record.
func (s *Store) UpsertSubscription(ctx context.Context, sub Subscription) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertSubscriptionSQL,
		sub.SubscriberID,
		string(sub.Topic),
		sub.DisplayName,
		sub.Schedule,
		string(sub.Status),
		sub.SubscribedAt,
		sub.LastDeliveredAt,
	); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// ListSubscriptionsBySubscriber lists every record of a subscriber.
func (s *Store) ListSubscriptionsBySubscriber(ctx context.Context, subscriberID string) ([]Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listSubscriptionsBySubscriberSQL, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by subscriber: %w", err)
	}
	return collectSubscriptions(rows)
}

// ListSubscriptionsByTopic lists records of a topic in the given status.
func (s *Store) ListSubscriptionsByTopic(ctx context.Context, topic Topic, status Status) ([]Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listSubscriptionsByTopicSQL, string(topic), string(status))
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by topic: %w", err)
	}
	return collectSubscriptions(rows)
}

// MarkDelivered stamps the last successful delivery time.
func (s *Store) MarkDelivered(ctx context.Context, subscriberID string, topic Topic, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, err := pool.Exec(ctx, markDeliveredSQL, subscriberID, string(topic), at)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendDelivery writes one delivery audit record.
func (s *Store) AppendDelivery(ctx context.Context, rec DeliveryRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertDeliverySQL,
		rec.ID, rec.DeliveredAt, rec.SubscriberID, string(rec.Topic), rec.Preview, rec.Success, rec.Error,
	); err != nil {
		return fmt.Errorf("append delivery: %w", err)
	}
	return nil
}

// ListRecentDeliveries lists the newest delivery records first.
func (s *Store) ListRecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listRecentDeliveriesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent deliveries: %w", err)
	}
	defer rows.Close()

	records := make([]DeliveryRecord, 0, limit)
	for rows.Next() {
		var rec DeliveryRecord
		var topic string
		if err := rows.Scan(&rec.ID, &rec.DeliveredAt, &rec.SubscriberID, &topic, &rec.Preview, &rec.Success, &rec.Error); err != nil {
			return nil, err
		}
		rec.Topic = Topic(topic)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppendSolarWind writes one solar-wind row.
func (s *Store) AppendSolarWind(ctx context.Context, row SolarWindRow) error {
	return s.exec(ctx, "append solar wind", insertSolarWindSQL,
		row.RecordedAt, row.Speed, row.Density, row.Temperature, row.Bx, row.By, row.Bz, row.Bt)
}

// AppendGeomagnetic writes one Kp row.
func (s *Store) AppendGeomagnetic(ctx context.Context, row GeomagneticRow) error {
	return s.exec(ctx, "append geomagnetic", insertGeomagneticSQL, row.RecordedAt, row.Kp, row.Level, row.GScale)
}

// AppendSatellite writes one satellite position row.
func (s *Store) AppendSatellite(ctx context.Context, row SatelliteRow) error {
	return s.exec(ctx, "append satellite", insertSatelliteSQL,
		row.RecordedAt, row.Name, row.Latitude, row.Longitude, row.Altitude, row.Velocity, row.Location)
}

// AppendRadiation writes one radiation row.
func (s *Store) AppendRadiation(ctx context.Context, row RadiationRow) error {
	return s.exec(ctx, "append radiation", insertRadiationSQL,
		row.RecordedAt, row.XRayFlux, row.FlareClass, row.ProtonFlux, row.ElectronFlux, row.SScale)
}

// ListGeomagneticBetween lists Kp rows within [from, to).
func (s *Store) ListGeomagneticBetween(ctx context.Context, from, to time.Time) ([]GeomagneticRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listGeomagneticBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list geomagnetic between: %w", err)
	}
	return collectGeomagnetic(rows)
}

// ListRecentGeomagnetic lists the newest Kp rows first.
func (s *Store) ListRecentGeomagnetic(ctx context.Context, limit int) ([]GeomagneticRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listRecentGeomagneticSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent geomagnetic: %w", err)
	}
	return collectGeomagnetic(rows)
}

// ListSolarWindBetween lists solar-wind rows within [from, to).
func (s *Store) ListSolarWindBetween(ctx context.Context, from, to time.Time) ([]SolarWindRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listSolarWindBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list solar wind between: %w", err)
	}
	defer rows.Close()

	out := make([]SolarWindRow, 0)
	for rows.Next() {
		var r SolarWindRow
		if err := rows.Scan(&r.RecordedAt, &r.Speed, &r.Density, &r.Temperature, &r.Bx, &r.By, &r.Bz, &r.Bt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) exec(ctx context.Context, op, sql string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func collectSubscriptions(rows pgx.Rows) ([]Subscription, error) {
	defer rows.Close()

	subs := make([]Subscription, 0)
	for rows.Next() {
		var (
			sub    Subscription
			topic  string
			status string
		)
		if err := rows.Scan(
			&sub.SubscriberID,
			&topic,
			&sub.DisplayName,
			&sub.Schedule,
			&status,
			&sub.SubscribedAt,
			&sub.LastDeliveredAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.Topic = Topic(topic)
		sub.Status = Status(status)
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

func collectGeomagnetic(rows pgx.Rows) ([]GeomagneticRow, error) {
	defer rows.Close()

	out := make([]GeomagneticRow, 0)
	for rows.Next() {
		var r GeomagneticRow
		if err := rows.Scan(&r.RecordedAt, &r.Kp, &r.Level, &r.GScale); err != nil {
			return nil, fmt.Errorf("scan geomagnetic: %w", err)
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
