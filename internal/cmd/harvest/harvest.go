// Package harvest holds the CLI commands for running, serving and
// inspecting harvests.
package harvest

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/berlinonline/fisbroker-harvester/internal/catalog"
	"github.com/berlinonline/fisbroker-harvester/internal/config"
	"github.com/berlinonline/fisbroker-harvester/internal/csw"
	"github.com/berlinonline/fisbroker-harvester/internal/harvester"
	"github.com/berlinonline/fisbroker-harvester/internal/store"
	"github.com/berlinonline/fisbroker-harvester/internal/store/postgres"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "harvest",
		Short: "Manages harvest runs against the FIS-Broker CSW service",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("welcome to the FIS-Broker harvester!")
			return nil
		},
	}
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newSourcesCommand())
	cmd.AddCommand(newObjectsCommand())
	cmd.AddCommand(newLastSuccessfulRunCommand())
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runtime bundles the collaborators initialized from one config file.
type runtime struct {
	config    *config.Harvester
	logger    *zap.Logger
	store     store.Store
	catalog   catalog.Service
	harvester *harvester.Harvester
}

func initialize(ctx context.Context, configPath string) (*runtime, error) {
	c, err := config.NewHarvesterFromFile(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(c.Global.Logger.Level)
	if err != nil {
		return nil, err
	}

	var st store.Store
	switch c.Store.Type {
	case "postgres":
		pg, err := postgres.Connect(ctx, c.Store.DSN,
			postgres.WithLogger(logger.Named("store.postgres")))
		if err != nil {
			return nil, err
		}
		st = pg
	case "", "memory":
		st = store.NewMemory()
	default:
		return nil, fmt.Errorf("unsupported store type: %q", c.Store.Type)
	}

	var cat catalog.Service
	switch c.Catalog.Type {
	case "", "memory":
		cat = catalog.NewMemory(catalog.WithLogger(logger.Named("catalog")))
	default:
		return nil, fmt.Errorf("unsupported catalog type: %q", c.Catalog.Type)
	}

	client := csw.NewClient(c.Source.URL,
		csw.WithTimeout(c.Source.TimeoutDuration()),
		csw.WithLogger(logger.Named("csw")))

	h := harvester.New(c.Source,
		harvester.WithStore(st),
		harvester.WithCatalog(cat),
		harvester.WithClient(client),
		harvester.WithLogger(logger.Named("harvester")))

	return &runtime{
		config:    c,
		logger:    logger,
		store:     st,
		catalog:   cat,
		harvester: h,
	}, nil
}
