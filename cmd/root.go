// Package cmd provides the simfinder command line
package cmd

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"simfinder/compute"
	"simfinder/config"
	"simfinder/database"
	"simfinder/engine"
	"simfinder/imageprocessor"
	"simfinder/logging"
	"simfinder/utils"
)

var (
	configPath   string
	databasePath string
	debugMode    bool
	logFilePath  string

	// settings is the effective configuration after flags are applied
	settings *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "simfinder",
	Short: "Find near-duplicate photos in a catalogued library",
	Long: `simfinder catalogs image folders into a sqlite database and groups
visually similar images (bursts, edits, re-exports, RAW+JPEG pairs).

Typical use:
  simfinder scan --folder ~/Pictures --prefix laptop
  simfinder dupes --prefix laptop
  simfinder compare a.jpg b.jpg`,
	SilenceUsage:       true,
	PersistentPreRunE:  loadSettings,
	PersistentPostRunE: func(*cobra.Command, []string) error { logging.CloseLogger(); return nil },
}

func init() {
	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&configPath, "config", utils.GetDefaultConfigPath(), "path to the YAML config file")
	pflags.StringVar(&databasePath, "database", "", "path to the catalog database (default: simfinder.db next to the binary)")
	pflags.BoolVar(&debugMode, "debug", false, "enable debug logging")
	pflags.StringVar(&logFilePath, "logfile", "", "log file path (default from config)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func loadSettings(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyGlobalFlags(cmd, cfg)

	if err := logging.SetupLogger(cfg.LogFile, cfg.Debug); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to set up logging: %v\n", err)
	}
	settings = cfg
	return nil
}

// applyGlobalFlags lets explicit flags win over the config file
func applyGlobalFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("database") {
		cfg.Database = databasePath
	}
	if flags.Changed("debug") {
		cfg.Debug = debugMode
	}
	if flags.Changed("logfile") {
		cfg.LogFile = logFilePath
	}
	if cfg.Database == "" {
		cfg.Database = utils.GetDefaultDatabasePath()
	}
}

// openCatalog opens the catalog, creating it when create is set
func openCatalog(create bool) (*sql.DB, error) {
	if create {
		return database.InitDatabase(settings.Database)
	}
	if _, err := os.Stat(settings.Database); os.IsNotExist(err) {
		return nil, fmt.Errorf("database %s does not exist, run scan first", settings.Database)
	}
	return database.InitDatabase(settings.Database)
}

// newEngine builds a compute device and an engine from the settings
func newEngine(backend string) (*engine.Engine, *compute.Device, error) {
	device, err := compute.NewDevice(compute.Options{Workers: settings.Engine.Workers})
	if err != nil {
		return nil, nil, err
	}

	opts := settings.EngineOptions()
	switch backend {
	case "":
	case config.BackendCPU:
		opts.ForceCPU = true
	case config.BackendAuto:
		opts.ForceCPU = false
	default:
		device.Close()
		return nil, nil, fmt.Errorf("unknown backend %q (want %s or %s)", backend, config.BackendAuto, config.BackendCPU)
	}

	eng, err := engine.New(engine.Dependencies{
		Device: device,
		Loader: imageprocessor.NewFileLoader(settings.Engine.ThumbnailSize),
	}, opts)
	if err != nil {
		device.Close()
		return nil, nil, err
	}
	return eng, device, nil
}
