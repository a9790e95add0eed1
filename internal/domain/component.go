package domain

import (
	"fmt"
	"time"
)

// Tag labels components for filtering.
type Tag struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Component is a tagged building block shown on the components page.
type Component struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      ServiceStatus `json:"status"`
	Tags        []Tag         `json:"tags"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Validate checks the component status enumeration.
// The backend stores an empty status as operational.
func (c *Component) Validate() error {
	if c.Status == "" {
		return nil
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("component %s: %w: %q", c.ID, ErrInvalidStatus, c.Status)
	}
	return nil
}

// HasTag reports whether the component carries a tag with the given name.
func (c *Component) HasTag(name string) bool {
	for _, t := range c.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}
