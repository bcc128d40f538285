package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type subscriptionKey struct {
	subscriberID string
	topic        Topic
}

// MemoryStore keeps everything in process memory. It backs the "memory"
// driver and tests.
type MemoryStore struct {
	mu          sync.Mutex
	subs        map[subscriptionKey]Subscription
	deliveries  []DeliveryRecord
	solarWind   []SolarWindRow
	geomagnetic []GeomagneticRow
	satellite   []SatelliteRow
	radiation   []RadiationRow
}

// NewMemoryStore constructs an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[subscriptionKey]Subscription)}
}

func (m *MemoryStore) EnsureSchema(context.Context) error { return nil }

func (m *MemoryStore) Close() {}

func (m *MemoryStore) FindSubscription(_ context.Context, subscriberID string, topic Topic) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subscriptionKey{subscriberID, topic}]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return copySubscription(sub), nil
}

func (m *MemoryStore) UpsertSubscription(_ context.Context, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[subscriptionKey{sub.SubscriberID, sub.Topic}] = copySubscription(sub)
	return nil
}

func (m *MemoryStore) ListSubscriptionsBySubscriber(_ context.Context, subscriberID string) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Subscription, 0)
	for key, sub := range m.subs {
		if key.subscriberID == subscriberID {
			out = append(out, copySubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

func (m *MemoryStore) ListSubscriptionsByTopic(_ context.Context, topic Topic, status Status) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Subscription, 0)
	for key, sub := range m.subs {
		if key.topic == topic && sub.Status == status {
			out = append(out, copySubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubscribedAt.Equal(out[j].SubscribedAt) {
			return out[i].SubscribedAt.Before(out[j].SubscribedAt)
		}
		return out[i].SubscriberID < out[j].SubscriberID
	})
	return out, nil
}

func (m *MemoryStore) MarkDelivered(_ context.Context, subscriberID string, topic Topic, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subscriptionKey{subscriberID, topic}
	sub, ok := m.subs[key]
	if !ok {
		return ErrNotFound
	}
	sub.LastDeliveredAt = &at
	m.subs[key] = sub
	return nil
}

func (m *MemoryStore) AppendDelivery(_ context.Context, rec DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, rec)
	return nil
}

func (m *MemoryStore) ListRecentDeliveries(_ context.Context, limit int) ([]DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeliveryRecord, 0, limit)
	for i := len(m.deliveries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.deliveries[i])
	}
	return out, nil
}

func (m *MemoryStore) AppendSolarWind(_ context.Context, row SolarWindRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.solarWind = append(m.solarWind, row)
	return nil
}

func (m *MemoryStore) AppendGeomagnetic(_ context.Context, row GeomagneticRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.geomagnetic = append(m.geomagnetic, row)
	return nil
}

func (m *MemoryStore) AppendSatellite(_ context.Context, row SatelliteRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.satellite = append(m.satellite, row)
	return nil
}

func (m *MemoryStore) AppendRadiation(_ context.Context, row RadiationRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.radiation = append(m.radiation, row)
	return nil
}

func (m *MemoryStore) ListGeomagneticBetween(_ context.Context, from, to time.Time) ([]GeomagneticRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GeomagneticRow, 0)
	for _, row := range m.geomagnetic {
		if !row.RecordedAt.Before(from) && row.RecordedAt.Before(to) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListRecentGeomagnetic(_ context.Context, limit int) ([]GeomagneticRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GeomagneticRow, 0, limit)
	for i := len(m.geomagnetic) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.geomagnetic[i])
	}
	return out, nil
}

func (m *MemoryStore) ListSolarWindBetween(_ context.Context, from, to time.Time) ([]SolarWindRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SolarWindRow, 0)
	for _, row := range m.solarWind {
		if !row.RecordedAt.Before(from) && row.RecordedAt.Before(to) {
			out = append(out, row)
		}
	}
	return out, nil
}

// Counts reports the number of stored history rows per category.
func (m *MemoryStore) Counts() (solarWind, geomagnetic, satellite, radiation int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.solarWind), len(m.geomagnetic), len(m.satellite), len(m.radiation)
}

func copySubscription(sub Subscription) Subscription {
	if sub.LastDeliveredAt != nil {
		at := *sub.LastDeliveredAt
		sub.LastDeliveredAt = &at
	}
	return sub
}

// NoopStore is the degraded stand-in used when the configured backend cannot
// be reached at startup: writes report success, reads return nothing.
type NoopStore struct{}

func (NoopStore) EnsureSchema(context.Context) error { return nil }
func (NoopStore) Close()                             {}

func (NoopStore) FindSubscription(context.Context, string, Topic) (Subscription, error) {
	return Subscription{}, ErrNotFound
}
func (NoopStore) UpsertSubscription(context.Context, Subscription) error { return nil }
func (NoopStore) ListSubscriptionsBySubscriber(context.Context, string) ([]Subscription, error) {
	return nil, nil
}
func (NoopStore) ListSubscriptionsByTopic(context.Context, Topic, Status) ([]Subscription, error) {
	return nil, nil
}
func (NoopStore) MarkDelivered(context.Context, string, Topic, time.Time) error { return nil }
func (NoopStore) AppendDelivery(context.Context, DeliveryRecord) error          { return nil }
func (NoopStore) ListRecentDeliveries(context.Context, int) ([]DeliveryRecord, error) {
	return nil, nil
}
func (NoopStore) AppendSolarWind(context.Context, SolarWindRow) error     { return nil }
func (NoopStore) AppendGeomagnetic(context.Context, GeomagneticRow) error { return nil }
func (NoopStore) AppendSatellite(context.Context, SatelliteRow) error     { return nil }
func (NoopStore) AppendRadiation(context.Context, RadiationRow) error     { return nil }
func (NoopStore) ListGeomagneticBetween(context.Context, time.Time, time.Time) ([]GeomagneticRow, error) {
	return nil, nil
}
func (NoopStore) ListRecentGeomagnetic(context.Context, int) ([]GeomagneticRow, error) {
	return nil, nil
}
func (NoopStore) ListSolarWindBetween(context.Context, time.Time, time.Time) ([]SolarWindRow, error) {
	return nil, nil
}

var (
	_ Backend = (*MemoryStore)(nil)
	_ Backend = NoopStore{}
)
