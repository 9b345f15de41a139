package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/superfly/fsm"
	"golang.org/x/sync/errgroup"

	"github.com/nixblitz/installer-engine/internal/config"
	"github.com/nixblitz/installer-engine/pkg/bridge"
	"github.com/nixblitz/installer-engine/pkg/db"
	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/engine"
	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/events"
	appfsm "github.com/nixblitz/installer-engine/pkg/fsm"
	"github.com/nixblitz/installer-engine/pkg/gateway"
	"github.com/nixblitz/installer-engine/pkg/metrics"
	"github.com/nixblitz/installer-engine/pkg/pipeline"
	"github.com/nixblitz/installer-engine/pkg/process"
	"github.com/nixblitz/installer-engine/pkg/security"
)

const engineShutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the installer engine and serve clients over websocket",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("target-root", "/mnt", "Mount point of the target system")
	serveCmd.Flags().String("hostname", "nixblitz", "Hostname written to the rendered configuration")
	serveCmd.Flags().String("fail-at", "", "Demo mode: step id or kind that fails")
	serveCmd.Flags().Duration("simulated-interval", pipeline.DefaultSimulatedInterval, "Demo mode: base step duration")
	serveCmd.Flags().Bool("allow-incompatible", false, "Continue when the system check reports issues")
	serveCmd.Flags().Bool("commit", true, "Commit the configuration after a successful install")
	serveCmd.Flags().Duration("heartbeat", 15*time.Second, "Heartbeat interval")

	viper.BindPFlag("target-root", serveCmd.Flags().Lookup("target-root"))
	viper.BindPFlag("hostname", serveCmd.Flags().Lookup("hostname"))
	viper.BindPFlag("fail-at", serveCmd.Flags().Lookup("fail-at"))
	viper.BindPFlag("simulated-interval", serveCmd.Flags().Lookup("simulated-interval"))
	viper.BindPFlag("allow-incompatible", serveCmd.Flags().Lookup("allow-incompatible"))
	viper.BindPFlag("commit", serveCmd.Flags().Lookup("commit"))
	viper.BindPFlag("heartbeat", serveCmd.Flags().Lookup("heartbeat"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ensure all necessary directories exist
	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.WorkDir); err != nil {
		return err
	}

	steps := pipeline.DefaultSteps()
	failAt, err := resolveFailAt(steps, cfg.FailAt)
	if err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	finalizer, err := newFinalizer(ctx, cfg, repo, manager)
	if err != nil {
		return err
	}

	m := metrics.New()
	runner := process.NewElevated(process.NewExecRunner(), cfg.PrivilegeHelper)
	scheme := disk.DefaultScheme()
	nix := bridge.NewNixBridge(runner, cfg.WorkDir, cfg.ConfigName, scheme)
	host := pipeline.NewRealExecutor(disk.NewLsblkInventory(runner), disk.NewPartitioner(runner), nix, scheme, cfg.TargetRoot)

	demo := pipeline.NewSimulatedExecutor(cfg.SimulatedInterval)
	demo.FailAt = failAt

	hub := events.NewHub(cfg.HubCapacity, m)
	eng := engine.New(engine.Options{
		Steps: steps,
		Real:  host,
		Demo:  demo,
		Hub:   hub,
		Retry: pipeline.RetryPolicy{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		},
		Recorder:          finalizer,
		Metrics:           m,
		TargetRoot:        cfg.TargetRoot,
		Hostname:          cfg.Hostname,
		AllowIncompatible: cfg.AllowIncompatible,
		DemoMode:          cfg.Demo,
	})
	validator := security.NewValidator(cfg.MaxPayloadBytes, security.DefaultMaxMessageLength)
	srv := gateway.NewServer(gateway.ServerConfig{
		Addr:            cfg.ListenAddr,
		MaxPayloadBytes: int64(cfg.MaxPayloadBytes),
	}, gateway.New(eng, validator), eng, m)

	slog.Info("engine_started", "addr", cfg.ListenAddr, "demo", cfg.Demo, "work_dir", cfg.WorkDir)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		hub.Run(gctx, cfg.Heartbeat)
		return nil
	})
	g.Go(func() error {
		// Heartbeats stop with the listener.
		defer stop()
		return srv.ListenAndServe(gctx)
	})
	serveErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), engineShutdownTimeout)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		slog.Error("engine_shutdown_failed", "error", err)
	}

	slog.Info("engine_stopped")
	return serveErr
}

// newFinalizer wires the post-attempt workflow. Archiving and committing are
// optional.
func newFinalizer(ctx context.Context, cfg *config.Config, repo *db.Repository, manager *fsm.Manager) (*appfsm.Finalizer, error) {
	var archive appfsm.Archiver
	client, err := openArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if client != nil {
		archive = client
	}

	var committer bridge.Committer
	if cfg.Commit {
		committer = bridge.NewGitCommitter(process.NewExecRunner(), cfg.WorkDir)
	}

	validator := security.NewValidator(cfg.MaxPayloadBytes, security.DefaultMaxMessageLength)
	machine := appfsm.NewMachine(repo, archive, committer, validator, cfg.FSMMaxRetries)
	finalizer, err := appfsm.NewFinalizer(ctx, manager, machine)
	if err != nil {
		return nil, errors.Wrap(err, "FSM register failed")
	}
	return finalizer, nil
}

// resolveFailAt maps a step id or kind to the kind the simulator fails at.
func resolveFailAt(steps []pipeline.Step, name string) (pipeline.Kind, error) {
	if name == "" {
		return "", nil
	}
	for _, s := range steps {
		if s.ID == name || string(s.Kind) == name {
			return s.Kind, nil
		}
	}
	return "", errors.New("fail-at does not name a step: " + name)
}
