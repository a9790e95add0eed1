package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// IncidentStatus represents the lifecycle stage of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusIdentified    IncidentStatus = "identified"
	IncidentStatusMonitoring    IncidentStatus = "monitoring"
	IncidentStatusResolved      IncidentStatus = "resolved"
)

// IsValid checks if the incident status is valid.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusInvestigating, IncidentStatusIdentified,
		IncidentStatusMonitoring, IncidentStatusResolved:
		return true
	}
	return false
}

// IsResolved checks if the status closes the incident.
func (s IncidentStatus) IsResolved() bool {
	return s == IncidentStatusResolved
}

// IncidentImpact represents how badly an incident affects its service.
type IncidentImpact string

// Incident impacts.
const (
	IncidentImpactCritical IncidentImpact = "critical"
	IncidentImpactMajor    IncidentImpact = "major"
	IncidentImpactMinor    IncidentImpact = "minor"
)

// IsValid checks if the impact is valid.
func (i IncidentImpact) IsValid() bool {
	return i == IncidentImpactCritical || i == IncidentImpactMajor || i == IncidentImpactMinor
}

// Incident represents a reported disruption affecting one service.
type Incident struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      IncidentStatus `json:"status"`
	Impact      IncidentImpact `json:"impact"`
	ServiceID   string         `json:"service_id"`
	Service     *Service       `json:"service,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

// Validate checks enumerations and the resolution invariant.
func (i *Incident) Validate() error {
	if !i.Status.IsValid() {
		return fmt.Errorf("incident %s: %w: %q", i.ID, ErrInvalidStatus, i.Status)
	}
	if !i.Impact.IsValid() {
		return fmt.Errorf("incident %s: %w: %q", i.ID, ErrInvalidImpact, i.Impact)
	}
	if i.ResolvedAt != nil && !i.Status.IsResolved() {
		return fmt.Errorf("incident %s: %w", i.ID, ErrInconsistentResolution)
	}
	if i.Service != nil {
		if err := i.Service.Validate(); err != nil {
			return fmt.Errorf("incident %s: %w", i.ID, err)
		}
	}
	return nil
}

// Normalize repairs backend data before validation: it drops a resolved_at left
// behind when a resolved incident was reopened, and an embedded service that is
// an empty join result. Returns true if the incident was changed.
func (i *Incident) Normalize() bool {
	changed := false
	if i.ResolvedAt != nil && !i.Status.IsResolved() {
		i.ResolvedAt = nil
		changed = true
	}
	if i.Service != nil && !i.hasJoinedService() {
		i.Service = nil
		changed = true
	}
	return changed
}

func (i *Incident) hasJoinedService() bool {
	id := i.Service.ID
	return id != "" && id != uuid.Nil.String() && id == i.ServiceID
}

// Resolution returns the resolution time of a resolved incident.
// The boolean is false for open incidents and for resolved incidents
// whose backend did not record a timestamp.
func (i *Incident) Resolution() (time.Time, bool) {
	if !i.Status.IsResolved() || i.ResolvedAt == nil {
		return time.Time{}, false
	}
	return *i.ResolvedAt, true
}

// IsActive reports whether the incident is still open.
func (i *Incident) IsActive() bool {
	return !i.Status.IsResolved()
}

// IncidentUpdate is a timestamped entry on an incident's timeline.
type IncidentUpdate struct {
	ID         string         `json:"id"`
	IncidentID string         `json:"incident_id"`
	Message    string         `json:"message"`
	Status     IncidentStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate checks the update status enumeration.
func (u *IncidentUpdate) Validate() error {
	if !u.Status.IsValid() {
		return fmt.Errorf("incident update %s: %w: %q", u.ID, ErrInvalidStatus, u.Status)
	}
	return nil
}

// IncidentDetails is an incident together with its timeline.
type IncidentDetails struct {
	Incident Incident         `json:"incident"`
	Updates  []IncidentUpdate `json:"updates"`
}

// SortUpdates orders updates newest first.
func SortUpdates(updates []IncidentUpdate) {
	sort.SliceStable(updates, func(a, b int) bool {
		return updates[a].CreatedAt.After(updates[b].CreatedAt)
	})
}
