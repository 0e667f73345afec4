package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/kernelplanner/config"
	"github.com/mohammad-safakhou/kernelplanner/internal/planner"
	"github.com/mohammad-safakhou/kernelplanner/internal/reasoning"
	srv "github.com/mohammad-safakhou/kernelplanner/internal/server"
)

func planCMD() *cobra.Command {
	var plannerType string
	var maxSteps int
	var extra string
	var dryRun bool
	var cfgPath string

	var plan = &cobra.Command{
		Use:   "plan [goal]",
		Short: "Plan and run a goal from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := srv.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Planner == nil {
				return reasoning.ErrNotConfigured
			}

			execute := !dryRun
			exec, err := app.Planner.Run(ctx, planner.Request{
				Goal:     strings.Join(args, " "),
				Type:     plannerType,
				Context:  extra,
				Execute:  &execute,
				MaxSteps: maxSteps,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(srv.NewPlanResponse(exec)); err != nil {
				return err
			}
			if exec.Status() == planner.StatusFailed {
				return fmt.Errorf("plan failed: %s", exec.FinalResult)
			}
			return nil
		},
	}
	plan.Flags().StringVar(&plannerType, "type", "", "sequential or stepwise (default planner.default_type)")
	plan.Flags().IntVar(&maxSteps, "max-steps", 0, "step bound (default planner.max_steps)")
	plan.Flags().StringVar(&extra, "context", "", "extra context for the reasoner")
	plan.Flags().BoolVar(&dryRun, "dry-run", false, "propose the plan without executing it")
	plan.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return plan
}
