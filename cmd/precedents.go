package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/lawdata-collector/internal/collector"
	"github.com/JakeFAU/lawdata-collector/internal/jobs"
)

func newPrecedentsCmd(c *cli) *cobra.Command {
	var (
		paging    pagingFlags
		keywords  string
		dateRange string
	)
	cmd := &cobra.Command{
		Use:   "precedents",
		Short: "Collect court decisions",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			_, _, err := jobs.ParseDateRange(dateRange)
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.resolveApp()
			if err != nil {
				return err
			}
			params := paging.params(keywords)
			params.StartDate, params.EndDate, _ = jobs.ParseDateRange(dateRange)
			a.StartServer(cmd.Context())
			run, runErr := a.RunJob(cmd.Context(), collector.JobPrecedents, params)
			return finishRun(cmd.OutOrStdout(), run, runErr)
		},
	}
	cmd.Flags().StringVar(&keywords, "keywords", "", "full-text search keywords")
	cmd.Flags().StringVar(&dateRange, "date-range", "", "judgment date window as YYYYMMDD~YYYYMMDD")
	paging.register(cmd)
	return cmd
}
