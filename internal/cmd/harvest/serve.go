package harvest

import (
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/berlinonline/fisbroker-harvester/internal/server"
)

const defaultAddr = ":8080"

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the reimport API and schedules periodic harvest runs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := initialize(ctx, configPath)
			if err != nil {
				return err
			}
			defer rt.logger.Sync()
			l := rt.logger.Named("harvest.serve")

			if schedule := rt.config.Schedule; schedule != "" {
				scheduler := cron.New(cron.WithChain(
					cron.SkipIfStillRunning(cron.DefaultLogger),
				))
				_, err := scheduler.AddFunc(schedule, func() {
					run, err := rt.harvester.Run(ctx)
					if err != nil {
						l.Error("scheduled harvest run failed", zap.Error(err))
						return
					}
					l.Info("scheduled harvest run finished", zap.String("run", run.ID))
				})
				if err != nil {
					return err
				}
				scheduler.Start()
				defer scheduler.Stop()
				l.Info("scheduled harvesting", zap.String("schedule", schedule))
			}

			addr := rt.config.HTTP.Addr
			if addr == "" {
				addr = defaultAddr
			}

			srv := server.New(rt.config.Source.ID, rt.harvester, rt.store,
				server.WithLogger(rt.logger.Named("server")))
			return srv.Start(ctx, addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")

	return cmd
}
