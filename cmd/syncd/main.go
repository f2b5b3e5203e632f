package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	hcmemdb "github.com/hashicorp/go-memdb"
	"github.com/oklog/run"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flant/compliance-sync/clients"
	"github.com/flant/compliance-sync/internal"
	"github.com/flant/compliance-sync/repo"
	"github.com/flant/compliance-sync/usecase"
)

// environment variables to pass params
const (
	kafkaEndpoints = "KAFKA_ENDPOINTS"    // example: localhost:9094,localhost:9095
	kafkaGroupID   = "KAFKA_GROUP_ID"     // example: compliance-sync
	directoryTopic = "DIRECTORY_TOPIC"    // example: directory.changes
	teamTopic      = "TEAM_TOPIC"         // example: team.changes
	directoryURL   = "DIRECTORY_URL"      // example: http://directory:8080
	teamRegistry   = "TEAM_REGISTRY_URL"  // example: http://registry:8080
	vendorURL      = "VENDOR_URL"         // example: http://vendor:8080
	trueupInterval = "TRUEUP_INTERVAL"    // example: 24h
	statsInterval  = "STATS_INTERVAL"     // example: 1m
	eventWorkers   = "EVENT_WORKERS"      // example: 4
)

type config struct {
	kafka          internal.DaemonConfig
	directoryURL   string
	registryURL    string
	vendorURL      string
	trueupInterval time.Duration
	statsInterval  time.Duration
}

func collectConfig() config {
	viper.AutomaticEnv()
	viper.SetDefault(trueupInterval, "24h")
	viper.SetDefault(statsInterval, "1m")
	viper.SetDefault(eventWorkers, 4)
	viper.SetDefault(kafkaGroupID, "compliance-sync")
	viper.SetDefault(directoryTopic, "directory.changes")
	viper.SetDefault(teamTopic, "team.changes")

	return config{
		kafka: internal.DaemonConfig{
			Endpoints:      strings.Split(viper.GetString(kafkaEndpoints), ","),
			GroupID:        viper.GetString(kafkaGroupID),
			DirectoryTopic: viper.GetString(directoryTopic),
			TeamTopic:      viper.GetString(teamTopic),
			Workers:        viper.GetInt(eventWorkers),
		},
		directoryURL:   viper.GetString(directoryURL),
		registryURL:    viper.GetString(teamRegistry),
		vendorURL:      viper.GetString(vendorURL),
		trueupInterval: viper.GetDuration(trueupInterval),
		statsInterval:  viper.GetDuration(statsInterval),
	}
}

type app struct {
	store        *hcmemdb.MemDB
	stats        *internal.Stats
	vendor       *clients.ResilientVendor
	bootstrapper *usecase.Bootstrapper
	trueup       *usecase.TrueUp
	processor    *internal.Processor
	cfg          config
}

func buildApp(cfg config, logger hclog.Logger) (*app, error) {
	store, err := repo.NewStore()
	if err != nil {
		return nil, err
	}
	stats := internal.NewStats()
	directory := clients.NewHTTPDirectory(cfg.directoryURL)
	registry := clients.NewHTTPTeamRegistry(cfg.registryURL)
	vendor := clients.NewResilientVendor(
		clients.NewHTTPVendor(cfg.vendorURL), clients.DefaultResilienceConfig(), stats, logger)

	return &app{
		store:        store,
		stats:        stats,
		vendor:       vendor,
		bootstrapper: usecase.NewBootstrapper(store, directory, registry, logger),
		trueup:       usecase.NewTrueUp(store, vendor, logger),
		processor:    internal.NewProcessor(store, vendor, directory, stats, logger),
		cfg:          cfg,
	}, nil
}

func runDaemon(cfg config, logger hclog.Logger) error {
	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}

	// an inconsistent seed poisons everything downstream, so a failed
	// bootstrap prevents startup
	if err := a.bootstrapper.Run(context.Background()); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	daemon, err := internal.NewDaemon(cfg.kafka, a.processor, a.vendor, a.stats, logger)
	if err != nil {
		return err
	}

	var group run.Group
	group.Add(func() error {
		return daemon.Run(context.Background())
	}, func(error) {
		daemon.Stop()
	})

	trueupStop := make(chan struct{})
	group.Add(func() error {
		ticker := time.NewTicker(cfg.trueupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-trueupStop:
				return nil
			case <-ticker.C:
				if _, err := a.trueup.RunDailyTrueUp(context.Background()); err != nil {
					logger.Error(fmt.Sprintf("true-up run: %s", err.Error()))
				}
			}
		}
	}, func(error) {
		close(trueupStop)
	})

	statsStop := make(chan struct{})
	group.Add(func() error {
		ticker := time.NewTicker(cfg.statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-statsStop:
				return nil
			case <-ticker.C:
				a.stats.Emit(logger)
			}
		}
	}, func(error) {
		close(statsStop)
	})

	group.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	return group.Run()
}

func main() {
	logger := hclog.Default()
	logger.SetLevel(hclog.Info)

	rootCmd := &cobra.Command{
		Use:   "syncd",
		Short: "Vendor access-control compliance synchronization daemon",
		Long: `Keeps the vendor's access-control configuration in sync with the
personnel directory and the team-ownership registry.
Configure by passing environment variables:
KAFKA_ENDPOINTS        // example: localhost:9094
KAFKA_GROUP_ID         // example: compliance-sync
DIRECTORY_TOPIC        // example: directory.changes
TEAM_TOPIC             // example: team.changes
DIRECTORY_URL          // example: http://directory:8080
TEAM_REGISTRY_URL      // example: http://registry:8080
VENDOR_URL             // example: http://vendor:8080
TRUEUP_INTERVAL        // example: 24h
STATS_INTERVAL         // example: 1m
EVENT_WORKERS          // example: 4
`,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Bootstrap the mirror store and process change events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(collectConfig(), logger)
		},
	}

	bootstrapCmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Seed the mirror store and exit (dry check of the seed path)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(collectConfig(), logger)
			if err != nil {
				return err
			}
			return a.bootstrapper.Run(context.Background())
		},
	}

	trueupCmd := &cobra.Command{
		Use:   "trueup",
		Short: "Bootstrap, run one reconciliation pass against the vendor and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(collectConfig(), logger)
			if err != nil {
				return err
			}
			if err := a.bootstrapper.Run(context.Background()); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			_, err = a.trueup.RunDailyTrueUp(context.Background())
			return err
		},
	}

	rootCmd.AddCommand(runCmd, bootstrapCmd, trueupCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
