package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newPostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post",
		Short: "Generate and publish the daily wisdom post once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, runErr := a.AutoPost.Run(cmd.Context())
			for _, e := range report.Entries {
				a.Logger.Info("auto post entry", "title", e.Title, "proverb", e.Proverb, "skipped", e.Skip, "err", e.Err)
				for _, r := range e.Results {
					a.Logger.Info("auto post result", "publisher", r.Publisher, "post_id", r.PostID, "err", r.Err)
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(struct {
				Generated int `json:"generated"`
				Published int `json:"published"`
			}{report.Generated, report.Published}); err != nil {
				return err
			}
			return runErr
		},
	}
}
