package harvest

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Executes one harvest run: gather, fetch and import all records.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := initialize(ctx, viper.GetString("config"))
			if err != nil {
				return err
			}
			defer rt.logger.Sync()
			l := rt.logger.Named("harvest.run")
			l.Info("starting harvest run",
				zap.String("source", rt.config.Source.ID),
				zap.String("url", rt.config.Source.URL))

			run, err := rt.harvester.Run(ctx)
			if err != nil {
				l.Error("harvest run failed", zap.Error(err))
				return err
			}

			l.Info("harvest run finished",
				zap.String("run", run.ID),
				zap.String("status", run.Status))
			return nil
		},
	}

	cmd.Flags().StringP("config", "c", "", "Path to config file")
	viper.BindPFlag("config", cmd.Flags().Lookup("config"))
	viper.AutomaticEnv()
	viper.SetEnvPrefix("FISBROKER")

	return cmd
}
