package routes

import "context"

// Route names of the status page.
const (
	NameHome            = "Home"
	NameAdmin           = "Admin"
	NameIncidentDetails = "IncidentDetails"
	NameComponents      = "Components"
	NameNotFound        = "NotFound"
)

// Route patterns of the status page.
const (
	PatternHome            = "/"
	PatternAdmin           = "/admin"
	PatternIncidentDetails = "/incidents/{id}"
	PatternComponents      = "/components"
)

// Catalog supplies the views of the status page.
type Catalog interface {
	Home() View
	NotFound() View
	Admin(ctx context.Context) (View, error)
	IncidentDetails(ctx context.Context) (View, error)
	Components(ctx context.Context) (View, error)
}

// DefaultRoutes builds the status page table. Home and the fallback are
// ready at startup, the rest load on first navigation.
func DefaultRoutes(c Catalog) (*Table, error) {
	return NewTable(
		Route{Name: NameNotFound, Loader: Eager(c.NotFound())},
		Route{Name: NameHome, Pattern: PatternHome, Loader: Eager(c.Home())},
		Route{Name: NameAdmin, Pattern: PatternAdmin, Loader: Deferred(c.Admin)},
		Route{Name: NameIncidentDetails, Pattern: PatternIncidentDetails, Loader: Deferred(c.IncidentDetails)},
		Route{Name: NameComponents, Pattern: PatternComponents, Loader: Deferred(c.Components)},
	)
}
