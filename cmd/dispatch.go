package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var dispatchInterval time.Duration

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Send due queue items",
}

var dispatchDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Send due items once, up to the daily cap",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "dispatch")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Dispatcher.Drain(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var dispatchRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Drain the queue on an interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "dispatch")
		if err != nil {
			return err
		}
		defer env.Close()

		interval := dispatchInterval
		if interval <= 0 {
			interval = time.Duration(cfg.Dispatch.IntervalSecs) * time.Second
		}
		zap.L().Info("dispatcher started", zap.Duration("interval", interval))
		return env.Dispatcher.Run(ctx, interval)
	},
}

func init() {
	dispatchRunCmd.Flags().DurationVar(&dispatchInterval, "interval", 0, "time between drains (default from config)")
	dispatchCmd.AddCommand(dispatchDrainCmd, dispatchRunCmd)
	rootCmd.AddCommand(dispatchCmd)
}
