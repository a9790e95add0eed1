package views

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/bissquit/statuspage-web/internal/domain"
	"github.com/bissquit/statuspage-web/internal/routes"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const timeLayout = "Jan 2, 2006 15:04 MST"

func (s *Set) funcs() template.FuncMap {
	return template.FuncMap{
		"title": titleCase,
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.UTC().Format(timeLayout)
		},
		"statusClass": func(v any) string {
			status := fmt.Sprint(v)
			if status == "" {
				status = "operational"
			}
			return "status-" + status
		},
		"since": func(t time.Time) string {
			return humanizeSince(s.now().Sub(t))
		},
		"url":      s.routeURL,
		"tagNames": tagNames,
	}
}

// titleCase creates a caser per call: a cases.Caser keeps state between
// calls and must not be shared by concurrent renders.
func titleCase(v string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(v, "_", " "))
}

// tagNames joins tag names the way the component forms expect them.
func tagNames(tags []domain.Tag) string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}

// routeURL builds a link to a named route of the table from alternating
// key/value pairs.
func (s *Set) routeURL(name string, pairs ...string) (string, error) {
	if s.table == nil {
		return "", fmt.Errorf("url %s: no route table", name)
	}
	if len(pairs)%2 != 0 {
		return "", fmt.Errorf("url %s: odd number of parameters", name)
	}

	params := make(routes.Params, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		params[pairs[i]] = pairs[i+1]
	}
	return s.table.URL(name, params)
}

func humanizeSince(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	default:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
