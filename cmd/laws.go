package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/lawdata-collector/internal/collector"
)

// pagingFlags are shared by every collection command.
type pagingFlags struct {
	page         int
	pages        int
	pageSize     int
	collectionID string
}

func (f *pagingFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.page, "page", 1, "first page to request")
	cmd.Flags().IntVar(&f.pages, "pages", 1, "number of pages to request")
	cmd.Flags().IntVar(&f.pageSize, "page-size", 0, "items per page (0 uses the configured default)")
	cmd.Flags().StringVar(&f.collectionID, "collection-id", "", "identifier stamped on every stored row")
	_ = cmd.MarkFlagRequired("collection-id")
}

func (f *pagingFlags) params(query string) collector.RunParams {
	return collector.RunParams{
		Query:        query,
		StartPage:    f.page,
		Pages:        f.pages,
		PageSize:     f.pageSize,
		CollectionID: f.collectionID,
	}
}

func newLawsCmd(c *cli) *cobra.Command {
	var (
		paging pagingFlags
		query  string
	)
	cmd := &cobra.Command{
		Use:   "laws",
		Short: "Collect statutes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.resolveApp()
			if err != nil {
				return err
			}
			a.StartServer(cmd.Context())
			run, runErr := a.RunJob(cmd.Context(), collector.JobLaws, paging.params(query))
			return finishRun(cmd.OutOrStdout(), run, runErr)
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "statute name search term")
	paging.register(cmd)
	return cmd
}
