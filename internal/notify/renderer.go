package notify

import (
	"bytes"
	"embed"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/bissquit/statuspage-web/internal/domain"
	"github.com/bissquit/statuspage-web/internal/feed"
	"github.com/bissquit/statuspage-web/internal/routes"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var kinds = []feed.Kind{feed.KindServiceStatus, feed.KindIncidentOpened, feed.KindIncidentStatus}

// Renderer turns feed changes into notifications.
type Renderer struct {
	templates map[feed.Kind]*template.Template
	publicURL string
}

// NewRenderer loads the message templates. publicURL, when set, is used
// to link incident notifications to their page.
func NewRenderer(publicURL string) (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":       titleCase,
		"statusEmoji": statusEmoji,
		"impactEmoji": impactEmoji,
	}

	r := &Renderer{
		templates: make(map[feed.Kind]*template.Template, len(kinds)),
		publicURL: strings.TrimRight(publicURL, "/"),
	}

	for _, kind := range kinds {
		filename := fmt.Sprintf("templates/%s.tmpl", kind)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(string(kind)).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", kind, err)
		}

		r.templates[kind] = tmpl
	}

	return r, nil
}

// Render renders one change.
func (r *Renderer) Render(c feed.Change) (Notification, error) {
	tmpl, ok := r.templates[c.Kind]
	if !ok {
		return Notification{}, fmt.Errorf("template not found: %s", c.Kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, c); err != nil {
		return Notification{}, fmt.Errorf("execute template %s: %w", c.Kind, err)
	}

	n := Notification{
		Subject:  subject(c),
		Body:     strings.TrimSpace(buf.String()),
		Severity: severity(c),
		Fields:   fields(c),
		Unix:     c.At.Unix(),
	}

	if c.IncidentID != "" && r.publicURL != "" {
		path, err := routes.BuildPath(routes.PatternIncidentDetails, routes.Params{"id": c.IncidentID})
		if err != nil {
			return Notification{}, fmt.Errorf("build incident link: %w", err)
		}
		if n.URL, err = url.JoinPath(r.publicURL, path); err != nil {
			return Notification{}, fmt.Errorf("build incident link: %w", err)
		}
	}

	return n, nil
}

func subject(c feed.Change) string {
	switch c.Kind {
	case feed.KindServiceStatus:
		return fmt.Sprintf("[%s] %s", titleCase(c.To), c.ServiceName)
	case feed.KindIncidentOpened:
		return fmt.Sprintf("[Incident] %s", c.Title)
	case feed.KindIncidentStatus:
		if c.To == string(domain.IncidentStatusResolved) {
			return fmt.Sprintf("[Resolved] %s", c.Title)
		}
		return fmt.Sprintf("[Update] %s", c.Title)
	default:
		return fmt.Sprintf("[Notification] %s", c.Title)
	}
}

func severity(c feed.Change) Severity {
	if c.Kind == feed.KindServiceStatus {
		switch domain.ServiceStatus(c.To) {
		case domain.ServiceStatusOutage:
			return SeverityDanger
		case domain.ServiceStatusDegraded:
			return SeverityWarning
		default:
			return SeverityGood
		}
	}

	if c.To == string(domain.IncidentStatusResolved) {
		return SeverityGood
	}
	if c.Impact == domain.IncidentImpactMinor {
		return SeverityWarning
	}
	return SeverityDanger
}

func fields(c feed.Change) []Field {
	if c.Kind == feed.KindServiceStatus {
		return []Field{
			{Title: "Service", Value: c.ServiceName},
			{Title: "Status", Value: titleCase(c.To)},
		}
	}

	out := []Field{
		{Title: "Impact", Value: titleCase(string(c.Impact))},
		{Title: "Status", Value: titleCase(c.To)},
	}
	if c.ServiceName != "" {
		out = append(out, Field{Title: "Service", Value: c.ServiceName})
	}
	return out
}

// titleCase builds a caser per call; a cases.Caser is stateful.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

func statusEmoji(status string) string {
	switch strings.ToLower(status) {
	case "investigating":
		return "🔍"
	case "identified":
		return "🔎"
	case "monitoring":
		return "👀"
	case "resolved", "operational":
		return "✅"
	case "degraded":
		return "🟠"
	case "outage":
		return "🔴"
	default:
		return "📋"
	}
}

func impactEmoji(impact string) string {
	switch strings.ToLower(impact) {
	case "minor":
		return "🟡"
	case "major":
		return "🟠"
	case "critical":
		return "🔴"
	default:
		return "⚪"
	}
}
