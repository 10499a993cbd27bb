package harvest

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewReimportCommand reimports specific packages, or all packages of the
// configured source, from FIS-Broker.
func NewReimportCommand() *cobra.Command {
	var (
		configPath string
		datasetIDs []string
		all        bool
		offset     int
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "reimport",
		Short: "Re-fetches and force-imports packages from FIS-Broker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := initialize(ctx, configPath)
			if err != nil {
				return err
			}
			defer rt.logger.Sync()
			l := rt.logger.Named("reimport")

			ids := datasetIDs
			if all {
				entities, err := rt.store.CurrentEntities(ctx, rt.config.Source.ID)
				if err != nil {
					return err
				}
				for _, entity := range entities {
					if entity.DatasetID != "" {
						ids = append(ids, entity.DatasetID)
					}
				}
				sort.Strings(ids)
			}
			if len(ids) == 0 {
				return fmt.Errorf("nothing to reimport, use --dataset or --all")
			}

			if offset > len(ids) {
				offset = len(ids)
			}
			ids = ids[offset:]
			if limit >= 0 && limit < len(ids) {
				ids = ids[:limit]
			}

			l.Info("reimporting packages", zap.Int("count", len(ids)))
			results, err := rt.harvester.ReimportBatch(ctx, ids)
			if err != nil {
				return err
			}

			output := make(map[string]map[string]string, len(results))
			for datasetID, result := range results {
				output[datasetID] = map[string]string{
					"fisbroker_guid": result.GUID,
					"outcome":        string(result.Outcome),
				}
			}
			return printJSON(cmd, output)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")
	cmd.Flags().StringSliceVarP(&datasetIDs, "dataset", "d", nil, "Id or name of a package to reimport (repeatable)")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Reimport all current packages of the source")
	cmd.Flags().IntVarP(&offset, "offset", "o", 0, "Index of the first dataset to reimport")
	cmd.Flags().IntVarP(&limit, "limit", "l", -1, "Max number of datasets to reimport")

	return cmd
}
