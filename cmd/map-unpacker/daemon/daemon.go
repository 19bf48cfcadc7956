// Package daemon provides the map unpacker daemon command.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/go-viper/mapstructure/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ubuntu/map-unpacker/internal/cli"
	"github.com/ubuntu/map-unpacker/internal/constants"
	"github.com/ubuntu/map-unpacker/internal/projection"
	"github.com/ubuntu/map-unpacker/internal/unpacker"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon    service
	newDaemon func(ctx context.Context) (service, error)
	registry  *prometheus.Registry
	cancel    context.CancelFunc

	ready chan struct{}
}

// service is the unpacker run by the daemon.
type service interface {
	Run(ctx context.Context) error
	WaitDeletions()
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int  `mapstructure:"verbose"`
	JSONLogs  bool `mapstructure:"json-logs"`

	unpacker.StaticConfig `mapstructure:",squash"`
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}
	a.newDaemon = a.newService

	a.cmd = &cobra.Command{
		Use:   constants.CmdName,
		Short: "Unpack map bundles into map records",
		Long: `Watch a directory for map bundles, extract the map data fields of each of them into
a record named after its map id, then delete the bundle once the record is written.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetVerbosity(a.config.Verbosity) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.CmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
				projection.DecodeHook(),
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			))); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs)
			slog.Debug("Got app config", "config", a.config)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}
	if err := a.viper.BindPFlags(a.cmd.Flags()); err != nil {
		return nil, err
	}

	a.installVersion()

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	defaultConf := unpacker.DefaultConfig()

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "write logs as JSON to stderr")

	// Daemon flags
	cmd.Flags().StringVar(&app.config.InputDir, "input-dir", defaultConf.InputDir, "directory watched for map bundles")
	cmd.Flags().StringVar(&app.config.OutputDir, "output-dir", defaultConf.OutputDir, "directory map records are written to")
	cmd.Flags().StringVar(&app.config.Marker, "marker", defaultConf.Marker, "text opening the block of the bundle which is never read")
	cmd.Flags().BoolVar(&app.config.RepairQuotes, "repair-quotes", defaultConf.RepairQuotes, `collapse runs of three or more quotes into "" before parsing`)
	cmd.Flags().BoolVar(&app.config.InitialScan, "initial-scan", defaultConf.InitialScan, "process bundles already present in the input directory at startup")

	cmd.Flags().DurationVar(&app.config.SettleDelay, "settle-delay", defaultConf.SettleDelay, "time without writes before a bundle is processed")
	cmd.Flags().DurationVar(&app.config.DeleteDelay, "delete-delay", defaultConf.DeleteDelay, "delay before the delete queue starts removing processed bundles")
	cmd.Flags().DurationVar(&app.config.RetryDelay, "retry-delay", defaultConf.RetryDelay, "delay before a failed deletion is attempted again")

	for _, f := range []string{"input-dir", "output-dir"} {
		if err := cmd.MarkFlagDirname(f); err != nil {
			// This should never happen.
			panic(fmt.Sprintf("failed to mark %s flag as directory: %v", f, err))
		}
	}
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit gracefully shuts down the daemon.
// Bundles being processed are finished, pending deletions are dropped.
func (a *App) Quit() {
	a.WaitReady()
	a.cancel()
}

// WaitReady waits for the daemon to be ready.
func (a *App) WaitReady() {
	<-a.ready
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

func (a *App) run() (err error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.cancel = cancel

	a.registry = prometheus.NewRegistry()
	a.daemon, err = a.newDaemon(ctx)
	close(a.ready)
	if err != nil {
		return fmt.Errorf("failed to create unpacker: %v", err)
	}

	err = a.daemon.Run(ctx)
	// A watcher failure returns with ctx still live: stop the delete queue before waiting on it.
	cancel()
	a.daemon.WaitDeletions()
	logMetrics(a.registry)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) newService(ctx context.Context) (s service, err error) {
	cfg := a.config.StaticConfig
	if cfg.InputDir, err = filepath.Abs(cfg.InputDir); err != nil {
		return nil, fmt.Errorf("failed to get absolute path for input directory: %v", err)
	}
	if cfg.OutputDir, err = filepath.Abs(cfg.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to get absolute path for output directory: %v", err)
	}

	return unpacker.New(ctx, cfg, unpacker.WithLogger(slog.Default()), unpacker.WithRegisterer(a.registry))
}

// logMetrics logs the current value of every counter and gauge of g.
func logMetrics(g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		slog.Warn("Failed to gather metrics", "err", err)
		return
	}

	for _, f := range families {
		for _, m := range f.GetMetric() {
			attrs := []any{"metric", f.GetName()}
			for _, l := range m.GetLabel() {
				attrs = append(attrs, l.GetName(), l.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				attrs = append(attrs, "value", m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				attrs = append(attrs, "value", m.GetGauge().GetValue())
			default:
				continue
			}
			slog.Info("Metrics summary", attrs...)
		}
	}
}
