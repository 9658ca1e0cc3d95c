package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/obsched/app"
	"github.com/kilianp07/obsched/config"
	"github.com/kilianp07/obsched/core/notify"
	"github.com/kilianp07/obsched/core/preemption"
	"github.com/kilianp07/obsched/core/snapshot"
	"github.com/kilianp07/obsched/infra/logger"
	"github.com/kilianp07/obsched/pkg/export"
)

var (
	snapshotPath string
	outFormat    string
	notifyFlag   bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run a single cycle and print the schedule",
	Long: "Run one urgent and normal pass over a snapshot and print the resulting " +
		"schedule. Downstream systems are only notified with --notify.",
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVarP(&snapshotPath, "snapshot", "s", "", "snapshot file (overrides snapshot.path)")
	scheduleCmd.Flags().StringVarP(&outFormat, "format", "f", "table", "output format: table, json, csv or html")
	scheduleCmd.Flags().BoolVar(&notifyFlag, "notify", false, "publish cancellations and aborts over MQTT")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := scheduleConfig()
	if err != nil {
		return err
	}
	opts := []app.Option{app.WithLogger(logger.NewZerologLoggerTo(cmd.ErrOrStderr(), "schedule"))}
	if snapshotPath != "" {
		opts = append(opts, app.WithSource(snapshot.FileSource{Path: snapshotPath}))
	}
	if !notifyFlag {
		opts = append(opts, app.WithNotifier(notify.NopNotifier{}))
	}
	svc, err := app.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "close: %v\n", err)
		}
	}()

	c, err := svc.RunOnce(ctx)
	// a failed normal pass still leaves the urgent schedule to print
	var pe *preemption.PassError
	if err != nil && (!errors.As(err, &pe) || pe.Pass != preemption.PassNormal) {
		return err
	}
	if werr := export.Write(cmd.OutOrStdout(), outFormat, export.Rows(c.Result)); werr != nil {
		return werr
	}
	return err
}

// scheduleConfig loads the config file when it exists and falls back to the
// defaults otherwise, so a snapshot can be scheduled without any setup.
func scheduleConfig() (*config.Config, error) {
	if _, err := os.Stat(cfgPath); err == nil || configFlagChanged() {
		return loadConfig()
	}
	if snapshotPath == "" {
		return nil, fmt.Errorf("no config file at %s and no --snapshot given", cfgPath)
	}
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Logging.Path = os.DevNull
	return cfg, cfg.Validate()
}

func configFlagChanged() bool {
	f := rootCmd.PersistentFlags().Lookup("config")
	return f != nil && f.Changed
}
