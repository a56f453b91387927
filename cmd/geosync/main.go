// Package main provides the geosync daemon binary.
// The daemon watches remotely-configured geofence connections, monitors the
// nearest regions within the platform slot limit, and synchronizes crossing
// events to the backing service.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fencewise/geosync/internal/config"
	"github.com/fencewise/geosync/internal/connection"
	"github.com/fencewise/geosync/internal/credentials"
	"github.com/fencewise/geosync/internal/location"
	"github.com/fencewise/geosync/internal/monitor"
	"github.com/fencewise/geosync/internal/pkg/logger"
	"github.com/fencewise/geosync/internal/pubsub"
	"github.com/fencewise/geosync/internal/region"
	"github.com/fencewise/geosync/internal/report"
	"github.com/fencewise/geosync/internal/scheduler"
	"github.com/fencewise/geosync/internal/storage"
	"github.com/fencewise/geosync/internal/tracking"
	"github.com/fencewise/geosync/internal/transport"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "geosync",
		Short: "Geosync - geofence synchronization daemon",
		Long: `Geosync keeps a device's geofence monitoring in sync with its
remotely-configured connections.

The daemon:
  - tracks enabled connections and their location triggers
  - monitors the nearest regions within the platform slot limit
  - queues boundary crossings durably and uploads them in batches

Examples:
  geosync                          # Start with defaults
  geosync --config geosync.yaml    # Explicit config file
  geosync --seed connections.yaml  # Preload connections for local runs`,
		RunE:         runDaemon,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringP("config", "c", "", "config file path")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.Flags().String("seed", "", "YAML file of connections to preload")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("geosync %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	seedPath, _ := cmd.Flags().GetString("seed")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info("Starting geosync",
		"version", version,
		"storage", cfg.Storage.Type,
		"max_regions", cfg.Monitoring.MaxRegions,
	)

	// Storage backs both the connection set and the pending crossing queue.
	kv := storage.NewKV(cfg.Storage, log)
	defer func() { _ = kv.Close() }()

	// Handlers run off the hot path on a single dispatch goroutine.
	exec := pubsub.NewGoExecutor(128)
	defer exec.Close()

	connChanges := pubsub.NewPublisher[connection.ChangeEvent](exec)
	conns := connection.NewRegistry(kv, connChanges, log)
	events := region.NewEventsRegistry(kv, log)

	provider := monitor.NewSimulatedProvider(exec)
	regions := monitor.NewRegionsMonitor(provider, cfg.Monitoring.MaxRegions, exec, log)

	sink := report.NewSink(cfg.Report, log)
	defer func() { _ = sink.Close() }()
	reporter := tracking.NewReporter(tracking.NewStore(), sink)

	uplink := transport.NewHTTPTransport(cfg.Transport)
	creds := credentials.NewStaticProvider(true)

	// Triggers flow through a publisher the scheduler subscribes, so signal
	// sources never hold a scheduler reference.
	triggers := pubsub.NewPublisher[scheduler.Trigger](exec)
	svc := location.NewService(location.Deps{
		Connections:       conns,
		ConnectionChanges: connChanges,
		Events:            events,
		Monitor:           regions,
		Transport:         uplink,
		Reporter:          reporter,
		Credentials:       creds,
		RequestSync: func(source scheduler.TriggerSource) {
			triggers.Publish(scheduler.Trigger{Source: source, At: time.Now()})
		},
	}, cfg.Sync, log)

	sched := scheduler.New([]scheduler.Synchronizable{svc}, scheduler.Options{
		Coalesce:    scheduler.CoalescePolicy(cfg.Scheduler.Coalesce),
		PassTimeout: cfg.Scheduler.PassTimeout,
		Sources:     []*pubsub.Publisher[scheduler.Trigger]{triggers},
	}, exec, log)

	sched.Start()
	defer sched.Stop()
	regions.Start()
	svc.Start()
	defer svc.Reset()

	if seedPath != "" {
		n, err := seedConnections(conns, seedPath)
		if err != nil {
			return fmt.Errorf("failed to seed connections: %w", err)
		}
		log.Info("Seeded connections", "count", n, "path", seedPath)
	}

	sched.Trigger(scheduler.SourceForeground)

	// Periodic wake-up so stranded events drain even without movement.
	if cfg.Scheduler.PeriodicInterval > 0 {
		ticker := time.NewTicker(cfg.Scheduler.PeriodicInterval)
		defer ticker.Stop()
		go func() {
			for range ticker.C {
				sched.Trigger(scheduler.SourcePeriodic)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("Shutting down", "signal", sig.String())

	// One final pass so a crossing observed moments before shutdown is not
	// stranded until the next start.
	sched.Trigger(scheduler.SourceBackground)
	time.Sleep(200 * time.Millisecond)
	return nil
}

// seedFile is the YAML shape of a --seed file.
type seedFile struct {
	Connections []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Triggers []struct {
			SubscriptionID string  `yaml:"subscription_id"`
			Latitude       float64 `yaml:"latitude"`
			Longitude      float64 `yaml:"longitude"`
			Radius         float64 `yaml:"radius"`
		} `yaml:"triggers"`
	} `yaml:"connections"`
}

func seedConnections(conns *connection.Registry, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}

	for _, sc := range seed.Connections {
		conn := connection.NewConnection(sc.ID, sc.Name)
		conn.Status = connection.StatusEnabled
		conn.UpdatedAt = time.Now()
		for _, tr := range sc.Triggers {
			trigger := connection.Trigger{
				Type:           connection.TriggerLocation,
				SubscriptionID: tr.SubscriptionID,
				Region: &connection.Region{
					ID:        tr.SubscriptionID,
					Latitude:  tr.Latitude,
					Longitude: tr.Longitude,
					Radius:    tr.Radius,
				},
			}
			conn.AllTriggers = append(conn.AllTriggers, trigger)
			conn.ActiveTriggers = append(conn.ActiveTriggers, trigger)
		}
		if err := conns.Update(conn, true); err != nil {
			return 0, err
		}
	}
	return len(seed.Connections), nil
}
