// Package domain contains the records exchanged with the status page backend.
package domain

import (
	"fmt"
	"time"
)

// ServiceStatus represents the health of a monitored service.
type ServiceStatus string

// Service statuses.
const (
	ServiceStatusOperational ServiceStatus = "operational"
	ServiceStatusDegraded    ServiceStatus = "degraded"
	ServiceStatusOutage      ServiceStatus = "outage"
)

// IsValid checks if the service status is valid.
func (s ServiceStatus) IsValid() bool {
	switch s {
	case ServiceStatusOperational, ServiceStatusDegraded, ServiceStatusOutage:
		return true
	}
	return false
}

// severity orders statuses from healthy to broken.
func (s ServiceStatus) severity() int {
	switch s {
	case ServiceStatusDegraded:
		return 1
	case ServiceStatusOutage:
		return 2
	}
	return 0
}

// Service represents a monitored system component.
type Service struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      ServiceStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Validate checks the service status enumeration.
func (s *Service) Validate() error {
	if !s.Status.IsValid() {
		return fmt.Errorf("service %s: %w: %q", s.ID, ErrInvalidStatus, s.Status)
	}
	return nil
}

// OverallStatus returns the worst status among services.
// An empty list is operational.
func OverallStatus(services []Service) ServiceStatus {
	overall := ServiceStatusOperational
	for _, s := range services {
		if s.Status.severity() > overall.severity() {
			overall = s.Status
		}
	}
	return overall
}
