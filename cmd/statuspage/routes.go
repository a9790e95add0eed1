package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bissquit/statuspage-web/internal/routes"
	"github.com/bissquit/statuspage-web/internal/views"
	"github.com/spf13/cobra"
)

func newRoutesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the page route table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			// Views do not touch the backend until a page is served.
			set, err := views.NewSet(nil, views.Options{
				SiteTitle: cfg.Site.Title,
				LiveFeed:  cfg.Feed.Enabled,
			})
			if err != nil {
				return fmt.Errorf("create views: %w", err)
			}
			table, err := routes.DefaultRoutes(set)
			if err != nil {
				return fmt.Errorf("build route table: %w", err)
			}

			return writeRoutes(cmd.OutOrStdout(), table)
		},
	}
}

func writeRoutes(w io.Writer, table *routes.Table) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPATTERN\tLOADING")

	for _, r := range table.Routes() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Pattern, loading(r.Loader))
	}
	nf := table.NotFound()
	fmt.Fprintf(tw, "%s\t%s\t%s\n", nf.Name, "*", loading(nf.Loader))

	return tw.Flush()
}

func loading(l routes.Loader) string {
	if l.Deferred() {
		return "deferred"
	}
	return "eager"
}
