// Package feed detects status changes by polling the backend and fans them
// out to live page clients and notification sinks.
package feed

import (
	"context"
	"time"

	"github.com/bissquit/statuspage-web/internal/domain"
)

// Kind identifies what changed.
type Kind string

// Change kinds.
const (
	KindServiceStatus  Kind = "service_status"
	KindIncidentOpened Kind = "incident_opened"
	KindIncidentStatus Kind = "incident_status"
)

// Change is one detected transition.
type Change struct {
	Kind        Kind                  `json:"kind"`
	ServiceID   string                `json:"service_id,omitempty"`
	ServiceName string                `json:"service_name,omitempty"`
	IncidentID  string                `json:"incident_id,omitempty"`
	Title       string                `json:"title,omitempty"`
	Impact      domain.IncidentImpact `json:"impact,omitempty"`
	From        string                `json:"from,omitempty"`
	To          string                `json:"to"`
	At          time.Time             `json:"at"`
}

// Sink receives the changes of one poll.
type Sink interface {
	Publish(ctx context.Context, changes []Change)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, changes []Change)

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, changes []Change) { f(ctx, changes) }

// Snapshot is the state observed by one poll.
type Snapshot struct {
	Services  []domain.Service
	Incidents []domain.Incident
}

// Diff returns the changes from prev to next in the order of next.
// Removed services and incidents produce no change.
func Diff(prev, next Snapshot, at time.Time) []Change {
	var changes []Change

	prevServices := make(map[string]domain.Service, len(prev.Services))
	for _, s := range prev.Services {
		prevServices[s.ID] = s
	}
	for _, s := range next.Services {
		old, ok := prevServices[s.ID]
		if !ok || old.Status == s.Status {
			continue
		}
		changes = append(changes, Change{
			Kind:        KindServiceStatus,
			ServiceID:   s.ID,
			ServiceName: s.Name,
			From:        string(old.Status),
			To:          string(s.Status),
			At:          at,
		})
	}

	prevIncidents := make(map[string]domain.Incident, len(prev.Incidents))
	for _, inc := range prev.Incidents {
		prevIncidents[inc.ID] = inc
	}
	for _, inc := range next.Incidents {
		old, ok := prevIncidents[inc.ID]
		switch {
		case !ok:
			changes = append(changes, incidentChange(KindIncidentOpened, inc, "", at))
		case old.Status != inc.Status:
			changes = append(changes, incidentChange(KindIncidentStatus, inc, string(old.Status), at))
		}
	}

	return changes
}

func incidentChange(kind Kind, inc domain.Incident, from string, at time.Time) Change {
	c := Change{
		Kind:       kind,
		ServiceID:  inc.ServiceID,
		IncidentID: inc.ID,
		Title:      inc.Title,
		Impact:     inc.Impact,
		From:       from,
		To:         string(inc.Status),
		At:         at,
	}
	if inc.Service != nil {
		c.ServiceName = inc.Service.Name
	}
	return c
}
