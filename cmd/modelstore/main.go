// Package main provides the modelstore command line tool. It is a thin
// collaborator over the persistence core: parameter documents arrive as YAML
// files, weather series as raw byte files, and the tool hands both to the
// store unchanged.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agrosim/modelstore/internal/config"
	"github.com/agrosim/modelstore/pkg/database/migrate"
	"github.com/agrosim/modelstore/pkg/modelstore"
	"github.com/agrosim/modelstore/pkg/modelstore/postgres"
)

const usage = `Usage: modelstore [-config file] <command> [options]

Commands:
  migrate   ensure the schema exists
  create    create a named configuration from parameter files
  run       record a simulation run against a configuration
  list      list configurations
  show      show a configuration and its iterations
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("modelstore", flag.ContinueOnError)
	configPath := global.String("config", "", "Path to configuration file")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() < 1 {
		global.Usage()
		return fmt.Errorf("missing command")
	}

	command := global.Arg(0)
	switch command {
	case "migrate", "create", "run", "list", "show":
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", command)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	})))

	db, err := cfg.Open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	rest := global.Args()[1:]

	switch command {
	case "migrate":
		return migrate.Run(db)
	case "create":
		return createConfiguration(ctx, db, rest)
	case "run":
		return addIteration(ctx, db, rest)
	case "list":
		return listConfigurations(ctx, db, rest)
	case "show":
		return showConfiguration(ctx, db, rest)
	}
	return nil
}

func createConfiguration(ctx context.Context, db *sql.DB, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	name := fs.String("name", "", "Configuration name (required)")
	soilWaterPath := fs.String("soil-water", "", "Path to soil-water parameter YAML")
	drainagePath := fs.String("drainage", "", "Path to drainage parameter YAML")
	cropPath := fs.String("crop", "", "Path to crop parameter YAML")
	weatherPath := fs.String("weather", "", "Path to packed weather data file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := modelstore.NewConfiguration{Name: *name}

	var err error
	if cfg.SoilWater, err = loadDocument(*soilWaterPath); err != nil {
		return err
	}
	if cfg.Drainage, err = loadDocument(*drainagePath); err != nil {
		return err
	}
	if cfg.Crop, err = loadDocument(*cropPath); err != nil {
		return err
	}
	if *weatherPath != "" {
		if cfg.Weather, err = os.ReadFile(*weatherPath); err != nil {
			return fmt.Errorf("reading weather file: %w", err)
		}
	}

	store := postgres.New(db)
	id, err := store.CreateConfiguration(ctx, cfg)
	if modelstore.IsDuplicateName(err) {
		// Expected outcome, not a failure: the existing row is untouched.
		slog.Warn("configuration already exists, nothing was added", "name", *name)
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("configuration created", "name", *name, "id", id)
	return nil
}

func addIteration(ctx context.Context, db *sql.DB, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	name := fs.String("name", "", "Configuration name (required)")
	soilWaterPath := fs.String("soil-water-delta", "", "Path to changed soil-water parameters YAML")
	drainagePath := fs.String("drainage-delta", "", "Path to changed drainage parameters YAML")
	cropPath := fs.String("crop-delta", "", "Path to changed crop parameters YAML")
	resultPath := fs.String("result", "", "Path to run result file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store := postgres.New(db)
	cfg, err := store.GetConfigurationByName(ctx, *name)
	if err != nil {
		return err
	}

	var run modelstore.RunInput
	if run.SoilWaterDelta, err = loadDocument(*soilWaterPath); err != nil {
		return err
	}
	if run.DrainageDelta, err = loadDocument(*drainagePath); err != nil {
		return err
	}
	if run.CropDelta, err = loadDocument(*cropPath); err != nil {
		return err
	}
	if *resultPath != "" {
		if run.Result, err = os.ReadFile(*resultPath); err != nil {
			return fmt.Errorf("reading result file: %w", err)
		}
	}

	seq, err := store.AddIteration(ctx, cfg.ID, run)
	if err != nil {
		return err
	}

	slog.Info("iteration recorded", "name", *name, "sequence", seq)
	fmt.Println(seq)
	return nil
}

func listConfigurations(ctx context.Context, db *sql.DB, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	prefix := fs.String("prefix", "", "Filter by name prefix")
	limit := fs.Int("limit", 0, "Maximum number of rows")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store := postgres.New(db)
	configs, err := store.ListConfigurations(ctx, modelstore.ConfigurationFilter{
		NamePrefix: *prefix,
		Limit:      *limit,
	})
	if err != nil {
		return err
	}

	for _, cfg := range configs {
		fmt.Printf("%s\t%s\t%s\n", cfg.ID, cfg.CreatedAt.Format("2006-01-02 15:04:05"), cfg.Name)
	}
	return nil
}

func showConfiguration(ctx context.Context, db *sql.DB, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	name := fs.String("name", "", "Configuration name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store := postgres.New(db)
	cfg, err := store.GetConfigurationByName(ctx, *name)
	if err != nil {
		return err
	}

	iterations, err := store.ListIterations(ctx, cfg.ID)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s), created %s\n", cfg.Name, cfg.ID, cfg.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  soil-water fields: %v\n", cfg.SoilWater.Keys())
	fmt.Printf("  drainage fields:   %v\n", cfg.Drainage.Keys())
	fmt.Printf("  crop fields:       %v\n", cfg.Crop.Keys())
	fmt.Printf("  weather bytes:     %d\n", len(cfg.Weather))
	fmt.Printf("  iterations:        %d\n", len(iterations))
	for _, it := range iterations {
		fmt.Printf("    #%d  %s  result bytes: %d\n",
			it.SequenceNumber, it.CreatedAt.Format("2006-01-02 15:04:05"), len(it.Result))
	}
	return nil
}

// loadDocument reads a YAML parameter file into a Document. An empty path
// yields a nil document.
func loadDocument(path string) (modelstore.Document, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading parameter file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing parameter file %s: %w", path, err)
	}

	doc, err := modelstore.DocumentFromMap(raw)
	if err != nil {
		return nil, fmt.Errorf("converting parameter file %s: %w", path, err)
	}
	return doc, nil
}
