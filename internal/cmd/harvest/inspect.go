package harvest

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

const jsonIndent = "  "

func newSourcesCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Lists the configured harvest sources.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := initialize(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer rt.logger.Sync()

			sources := []map[string]string{{
				"id":           rt.config.Source.ID,
				"url":          rt.config.Source.URL,
				"import_since": rt.config.Source.ImportSince,
			}}
			return printJSON(cmd, sources)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")

	return cmd
}

func newObjectsCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "objects",
		Short: "Shows all current harvest objects with their CSW guids and package ids.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := initialize(ctx, configPath)
			if err != nil {
				return err
			}
			defer rt.logger.Sync()

			entities, err := rt.store.CurrentEntities(ctx, rt.config.Source.ID)
			if err != nil {
				return err
			}

			objects := make([]map[string]string, 0, len(entities))
			for _, entity := range entities {
				objects = append(objects, map[string]string{
					"csw_guid":   entity.GUID,
					"package_id": entity.DatasetID,
				})
			}
			return printJSON(cmd, map[string]any{rt.config.Source.ID: objects})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")

	return cmd
}

func newLastSuccessfulRunCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "last-successful-run",
		Short: "Shows the last error-free harvest run that was not a reimport run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := initialize(ctx, configPath)
			if err != nil {
				return err
			}
			defer rt.logger.Sync()

			run, err := rt.store.LastErrorFreeRun(ctx, rt.config.Source.ID)
			if err != nil {
				return err
			}
			if run == nil {
				return printJSON(cmd, map[string]any{})
			}
			return printJSON(cmd, map[string]any{
				rt.config.Source.ID: map[string]string{
					"id":             run.ID,
					"gather_started": run.GatherStarted.Format("2006-01-02T15:04:05"),
					"finished":       run.Finished.Format("2006-01-02T15:04:05"),
					"status":         run.Status,
				},
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")

	return cmd
}

func printJSON(cmd *cobra.Command, value any) error {
	encoded, err := json.MarshalIndent(value, "", jsonIndent)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
