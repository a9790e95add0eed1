package views

import (
	"time"

	"github.com/bissquit/statuspage-web/internal/domain"
)

// Layout is shared by every page model.
type Layout struct {
	SiteTitle string
	PageTitle string
	Active    string
	LiveFeed  bool
	Now       time.Time
}

func (l *Layout) setLayout(v Layout) { *l = v }

type homeModel struct {
	Layout
	Overall            domain.ServiceStatus
	Services           []domain.Service
	Active             []domain.Incident
	Resolved           []domain.Incident
	ResolvedWindowDays int
}

type incidentModel struct {
	Layout
	Incident   domain.Incident
	Updates    []domain.IncidentUpdate
	Resolved   bool
	ResolvedAt time.Time
}

type componentsModel struct {
	Layout
	Components []domain.Component
	Tags       []domain.Tag
	Selected   map[string]bool
}

type adminModel struct {
	Layout
	Notice     string
	Errors     []string
	Services   []domain.Service
	Incidents  []domain.Incident
	Components []domain.Component
	Tags       []domain.Tag

	ServiceForm   serviceForm
	IncidentForm  incidentForm
	ComponentForm componentForm
	TagForm       tagForm

	ServiceStatuses  []string
	IncidentStatuses []string
	IncidentImpacts  []string
}

type notFoundModel struct {
	Layout
	Path    string
	Message string
}

type errorModel struct {
	Layout
	Heading   string
	Message   string
	RequestID string
}

var (
	serviceStatuses = []string{
		string(domain.ServiceStatusOperational),
		string(domain.ServiceStatusDegraded),
		string(domain.ServiceStatusOutage),
	}
	incidentStatuses = []string{
		string(domain.IncidentStatusInvestigating),
		string(domain.IncidentStatusIdentified),
		string(domain.IncidentStatusMonitoring),
		string(domain.IncidentStatusResolved),
	}
	incidentImpacts = []string{
		string(domain.IncidentImpactCritical),
		string(domain.IncidentImpactMajor),
		string(domain.IncidentImpactMinor),
	}
)

func newAdminModel() *adminModel {
	return &adminModel{
		ServiceForm:      serviceForm{Status: string(domain.ServiceStatusOperational)},
		IncidentForm:     incidentForm{Status: string(domain.IncidentStatusInvestigating), Impact: string(domain.IncidentImpactMinor)},
		ComponentForm:    componentForm{Status: string(domain.ServiceStatusOperational)},
		ServiceStatuses:  serviceStatuses,
		IncidentStatuses: incidentStatuses,
		IncidentImpacts:  incidentImpacts,
	}
}

// Probe models exercise every branch a template can reach.

func probeTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func probeService() domain.Service {
	return domain.Service{
		ID:        "probe-service",
		Name:      "probe",
		Status:    domain.ServiceStatusDegraded,
		CreatedAt: probeTime(),
		UpdatedAt: probeTime(),
	}
}

func probeIncident() domain.Incident {
	svc := probeService()
	resolvedAt := probeTime()
	return domain.Incident{
		ID:          "probe-incident",
		Title:       "probe",
		Description: "probe",
		Status:      domain.IncidentStatusResolved,
		Impact:      domain.IncidentImpactMajor,
		ServiceID:   svc.ID,
		Service:     &svc,
		CreatedAt:   probeTime(),
		UpdatedAt:   probeTime(),
		ResolvedAt:  &resolvedAt,
	}
}

func probeComponent() domain.Component {
	return domain.Component{
		ID:     "probe-component",
		Name:   "probe",
		Status: domain.ServiceStatusOperational,
		Tags:   []domain.Tag{{ID: "probe-tag", Name: "probe"}},
	}
}

func adminProbe() *adminModel {
	m := newAdminModel()
	m.Notice = "probe"
	m.Errors = []string{"probe"}
	m.Services = []domain.Service{probeService()}
	m.Incidents = []domain.Incident{probeIncident()}
	m.Components = []domain.Component{probeComponent()}
	m.Tags = []domain.Tag{{ID: "probe-tag", Name: "probe"}}
	return m
}

func incidentProbe() *incidentModel {
	inc := probeIncident()
	return &incidentModel{
		Incident:   inc,
		Updates:    []domain.IncidentUpdate{{ID: "probe-update", IncidentID: inc.ID, Message: "probe", Status: inc.Status, CreatedAt: probeTime()}},
		Resolved:   true,
		ResolvedAt: probeTime(),
	}
}

func componentsProbe() *componentsModel {
	return &componentsModel{
		Components: []domain.Component{probeComponent()},
		Tags:       []domain.Tag{{ID: "probe-tag", Name: "probe"}},
		Selected:   map[string]bool{"probe": true},
	}
}
