package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/basit/fileshare-workspaces/jobs"
)

func newReapCommand() *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Purge expired anonymous uploads and old recycle-bin files once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("retention") {
				cfg.RecycleBinRetention = retention
			}

			app, err := buildApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer app.close()

			reaper := jobs.NewReaper(app.files, cfg.ReaperInterval, cfg.RecycleBinRetention, log)
			n := reaper.RunOnce(cmd.Context())
			log.WithField("purged", n).Info("cleanup finished")
			return cmd.Context().Err()
		},
	}

	cmd.Flags().DurationVar(&retention, "retention", 0, "recycle-bin retention, 0 keeps deleted files")
	return cmd
}
