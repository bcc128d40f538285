package storage

import (
	"fmt"
	"strings"
	"time"
)

// Topic identifies what a subscriber wants to receive.
type Topic string

const (
	TopicDailyReport      Topic = "daily-report"
	TopicGeomagneticAlert Topic = "geomagnetic-alert"
	TopicFlareAlert       Topic = "flare-alert"
	TopicCMEAlert         Topic = "cme-alert"
)

// Topics lists every supported topic.
func Topics() []Topic {
	return []Topic{TopicDailyReport, TopicGeomagneticAlert, TopicFlareAlert, TopicCMEAlert}
}

// ParseTopic accepts the canonical name or its short alias ("daily", "kp", "flare", "cme").
func ParseTopic(raw string) (Topic, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(TopicDailyReport), "daily", "report":
		return TopicDailyReport, nil
	case string(TopicGeomagneticAlert), "geomagnetic", "kp", "storm":
		return TopicGeomagneticAlert, nil
	case string(TopicFlareAlert), "flare":
		return TopicFlareAlert, nil
	case string(TopicCMEAlert), "cme":
		return TopicCMEAlert, nil
	default:
		return "", fmt.Errorf("unknown topic %q", raw)
	}
}

// Status is the lifecycle state of a subscription record.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Subscription is one (subscriber, topic) record. Records are never deleted;
// unsubscribing flips Status to inactive.
type Subscription struct {
	SubscriberID    string
	Topic           Topic
	DisplayName     string
	Schedule        string
	Status          Status
	SubscribedAt    time.Time
	LastDeliveredAt *time.Time
}

// Active reports whether the record currently receives deliveries.
func (s Subscription) Active() bool {
	return s.Status == StatusActive
}

// DeliveryRecord is an append-only audit entry for one push attempt.
type DeliveryRecord struct {
	ID           string
	DeliveredAt  time.Time
	SubscriberID string
	Topic        Topic
	Preview      string
	Success      bool
	Error        string
}

// SolarWindRow is one historical solar-wind + IMF observation.
type SolarWindRow struct {
	RecordedAt  time.Time
	Speed       float64
	Density     float64
	Temperature float64
	Bx          float64
	By          float64
	Bz          float64
	Bt          float64
}

// GeomagneticRow is one historical Kp observation.
type GeomagneticRow struct {
	RecordedAt time.Time
	Kp         float64
	Level      string
	GScale     string
}

// SatelliteRow is one historical satellite position.
type SatelliteRow struct {
	RecordedAt time.Time
	Name       string
	Latitude   float64
	Longitude  float64
	Altitude   float64
	Velocity   float64
	Location   string
}

// RadiationRow is one historical X-ray/particle observation.
type RadiationRow struct {
	RecordedAt   time.Time
	XRayFlux     float64
	FlareClass   string
	ProtonFlux   float64
	ElectronFlux float64
	SScale       string
}
