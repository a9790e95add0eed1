package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/bissquit/statuspage-web/internal/domain"
)

// Cache keys are request paths; writes drop them by prefix.
const (
	pathServices   = "/api/services"
	pathIncidents  = "/api/incidents"
	pathComponents = "/api/components"
	pathTags       = "/api/tags"
)

// ServiceInput is the body of service create and update requests.
type ServiceInput struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Status      domain.ServiceStatus `json:"status"`
}

// IncidentInput is the body of incident create and update requests.
type IncidentInput struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Status      domain.IncidentStatus `json:"status"`
	Impact      domain.IncidentImpact `json:"impact"`
	ServiceID   string                `json:"service_id,omitempty"`
}

// ComponentInput is the body of component create and update requests.
// Tags are tag names; unknown names are created by the backend.
type ComponentInput struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Status      domain.ServiceStatus `json:"status,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
}

// TagInput is the body of a tag create request.
type TagInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func validateService(s *domain.Service) error { return s.Validate() }

func validateIncident(i *domain.Incident) error {
	i.Normalize()
	return i.Validate()
}

func validateComponent(c *domain.Component) error { return c.Validate() }

func validateTag(*domain.Tag) error { return nil }

// ListServices returns all services.
func (c *Client) ListServices(ctx context.Context) ([]domain.Service, error) {
	return cachedGet(ctx, c, "list_services", pathServices,
		decodeList[domain.Service]("list_services", validateService))
}

// ListIncidents returns all incidents, newest first.
func (c *Client) ListIncidents(ctx context.Context) ([]domain.Incident, error) {
	decode := decodeList[domain.Incident]("list_incidents", validateIncident)
	return cachedGet(ctx, c, "list_incidents", pathIncidents, func(body []byte) ([]domain.Incident, error) {
		incidents, err := decode(body)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(incidents, func(a, b int) bool {
			return incidents[a].CreatedAt.After(incidents[b].CreatedAt)
		})
		return incidents, nil
	})
}

// GetIncidentDetails returns an incident with its timeline, newest update first.
func (c *Client) GetIncidentDetails(ctx context.Context, id string) (*domain.IncidentDetails, error) {
	path := pathIncidents + "/" + url.PathEscape(id)
	return cachedGet(ctx, c, "get_incident", path, func(body []byte) (*domain.IncidentDetails, error) {
		var details domain.IncidentDetails
		if err := json.Unmarshal(body, &details); err != nil {
			return nil, fmt.Errorf("get_incident: %w: %v", ErrInvalidResponse, err)
		}
		if err := validateIncident(&details.Incident); err != nil {
			return nil, fmt.Errorf("get_incident: %w: %w", ErrInvalidResponse, err)
		}
		if details.Updates == nil {
			details.Updates = []domain.IncidentUpdate{}
		}
		for i := range details.Updates {
			if err := details.Updates[i].Validate(); err != nil {
				return nil, fmt.Errorf("get_incident: %w: %w", ErrInvalidResponse, err)
			}
		}
		domain.SortUpdates(details.Updates)
		return &details, nil
	})
}

// ListComponents returns components carrying any of tags, or all components.
func (c *Client) ListComponents(ctx context.Context, tags []string) ([]domain.Component, error) {
	path := pathComponents
	if len(tags) > 0 {
		sorted := append([]string(nil), tags...)
		sort.Strings(sorted)
		q := url.Values{"tags": sorted}
		path += "?" + q.Encode()
	}
	return cachedGet(ctx, c, "list_components", path,
		decodeList[domain.Component]("list_components", validateComponent))
}

// ListTags returns all tags.
func (c *Client) ListTags(ctx context.Context) ([]domain.Tag, error) {
	return cachedGet(ctx, c, "list_tags", pathTags,
		decodeList[domain.Tag]("list_tags", validateTag))
}

// CreateService creates a service.
func (c *Client) CreateService(ctx context.Context, in ServiceInput) (*domain.Service, error) {
	var out domain.Service
	if err := c.send(ctx, "create_service", http.MethodPost, pathServices, in, &out, pathServices); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateService replaces the name, description and status of a service.
func (c *Client) UpdateService(ctx context.Context, id string, in ServiceInput) (*domain.Service, error) {
	var out domain.Service
	path := pathServices + "/" + url.PathEscape(id)
	// Incidents embed their service.
	if err := c.send(ctx, "update_service", http.MethodPut, path, in, &out, pathServices, pathIncidents); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteService deletes a service.
func (c *Client) DeleteService(ctx context.Context, id string) error {
	path := pathServices + "/" + url.PathEscape(id)
	return c.send(ctx, "delete_service", http.MethodDelete, path, nil, nil, pathServices, pathIncidents)
}

// CreateIncident opens an incident.
func (c *Client) CreateIncident(ctx context.Context, in IncidentInput) (*domain.Incident, error) {
	var out domain.Incident
	if err := c.send(ctx, "create_incident", http.MethodPost, pathIncidents, in, &out, pathIncidents); err != nil {
		return nil, err
	}
	out.Normalize()
	return &out, nil
}

// UpdateIncident changes an incident. The backend stamps resolved_at on the
// first transition to resolved.
func (c *Client) UpdateIncident(ctx context.Context, id string, in IncidentInput) (*domain.Incident, error) {
	var out domain.Incident
	path := pathIncidents + "/" + url.PathEscape(id)
	if err := c.send(ctx, "update_incident", http.MethodPut, path, in, &out, pathIncidents); err != nil {
		return nil, err
	}
	out.Normalize()
	return &out, nil
}

// CreateComponent creates a component.
func (c *Client) CreateComponent(ctx context.Context, in ComponentInput) (*domain.Component, error) {
	var out domain.Component
	// New tag names show up in the tag list.
	if err := c.send(ctx, "create_component", http.MethodPost, pathComponents, in, &out, pathComponents, pathTags); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateComponent replaces a component's fields and tags.
func (c *Client) UpdateComponent(ctx context.Context, id string, in ComponentInput) (*domain.Component, error) {
	var out domain.Component
	path := pathComponents + "/" + url.PathEscape(id)
	if err := c.send(ctx, "update_component", http.MethodPut, path, in, &out, pathComponents, pathTags); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteComponent deletes a component.
func (c *Client) DeleteComponent(ctx context.Context, id string) error {
	path := pathComponents + "/" + url.PathEscape(id)
	return c.send(ctx, "delete_component", http.MethodDelete, path, nil, nil, pathComponents, pathTags)
}

// CreateTag creates a tag.
func (c *Client) CreateTag(ctx context.Context, in TagInput) (*domain.Tag, error) {
	var out domain.Tag
	if err := c.send(ctx, "create_tag", http.MethodPost, pathTags, in, &out, pathTags); err != nil {
		return nil, err
	}
	return &out, nil
}
