package main

import (
	"github.com/openmined/artifactsync/internal/config"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [patterns...]",
		Short: "Show what a sync would do",
		RunE: func(cmd *cobra.Command, args []string) error {
			patterns, err := selectionPatterns(cmd, args)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return showPlan(cmd, cfg, patterns)
		},
	}
	addSessionFlags(cmd)
	return cmd
}

func showPlan(cmd *cobra.Command, cfg *config.Config, patterns []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer s.Close()

	selection, err := s.engine.Select(ctx, patterns)
	if err != nil {
		return err
	}
	plan, _, err := s.engine.Plan(ctx, selection)
	if err != nil {
		return err
	}
	renderPlan(cmd.OutOrStdout(), s.instance, plan)
	return nil
}
