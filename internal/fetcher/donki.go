package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"spacewatch/internal/spaceweather"
)

const donkiDate = "2006-01-02"

type donkiCME struct {
	ActivityID  string `json:"activityID"`
	StartTime   string `json:"startTime"`
	Note        string `json:"note"`
	CMEAnalyses []struct {
		Speed          *float64 `json:"speed"`
		Type           string   `json:"type"`
		IsMostAccurate bool     `json:"isMostAccurate"`
		EnlilList      []struct {
			EstimatedShockArrivalTime *string `json:"estimatedShockArrivalTime"`
			IsEarthGB                 bool    `json:"isEarthGB"`
		} `json:"enlilList"`
	} `json:"cmeAnalyses"`
}

type donkiFlare struct {
	FlrID          string `json:"flrID"`
	BeginTime      string `json:"beginTime"`
	PeakTime       string `json:"peakTime"`
	ClassType      string `json:"classType"`
	SourceLocation string `json:"sourceLocation"`
}

func (a *Aggregator) donkiURL(kind string) string {
	end := a.now().UTC()
	start := end.Add(-a.opts.EventLookback)
	q := url.Values{}
	q.Set("startDate", start.Format(donkiDate))
	q.Set("endDate", end.Format(donkiDate))
	q.Set("api_key", a.opts.NASAAPIKey)
	return fmt.Sprintf("%s/%s?%s", a.donkiBase, kind, q.Encode())
}

func (a *Aggregator) fetchCMEs(ctx context.Context) ([]spaceweather.CMEEvent, error) {
	var raw []donkiCME
	if err := a.http.getJSON(ctx, "donki_cme", a.donkiURL("CME"), &raw); err != nil {
		return nil, err
	}

	events := make([]spaceweather.CMEEvent, 0, len(raw))
	for _, c := range raw {
		ev := spaceweather.CMEEvent{
			ID:        c.ActivityID,
			StartTime: parseTimeTag(c.StartTime),
			Note:      c.Note,
		}
		for i, an := range c.CMEAnalyses {
			if i == 0 || an.IsMostAccurate {
				if an.Speed != nil {
					ev.Speed = *an.Speed
				}
				ev.Type = an.Type
			}
			for _, en := range an.EnlilList {
				if en.EstimatedShockArrivalTime == nil || *en.EstimatedShockArrivalTime == "" {
					continue
				}
				arrival := parseTimeTag(*en.EstimatedShockArrivalTime)
				if arrival.IsZero() {
					continue
				}
				ev.EarthDirected = true
				if ev.ArrivalTime == nil || arrival.Before(*ev.ArrivalTime) {
					ev.ArrivalTime = &arrival
				}
			}
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].StartTime.After(events[j].StartTime) })
	return events, nil
}

func (a *Aggregator) fetchFlares(ctx context.Context) ([]spaceweather.FlareEvent, error) {
	var raw []donkiFlare
	if err := a.http.getJSON(ctx, "donki_flr", a.donkiURL("FLR"), &raw); err != nil {
		return nil, err
	}

	events := make([]spaceweather.FlareEvent, 0, len(raw))
	for _, f := range raw {
		events = append(events, spaceweather.FlareEvent{
			ID:             f.FlrID,
			BeginTime:      parseTimeTag(f.BeginTime),
			PeakTime:       parseTimeTag(f.PeakTime),
			ClassType:      f.ClassType,
			SourceLocation: f.SourceLocation,
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].BeginTime.After(events[j].BeginTime) })
	return events, nil
}

