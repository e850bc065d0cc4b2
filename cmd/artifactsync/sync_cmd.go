package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [patterns...]",
		Short: "Synchronize artifacts with the content server",
		Example: `  artifactsync sync 'plugin:*' 'recipe:PROJ.*' library:PROJ
  artifactsync sync --selection artifacts.yaml --resolve local
  artifactsync sync plugin:geo --merge-tool 'git merge-file -p {local} {base} {remote}'`,
		RunE: runSync,
	}

	addSessionFlags(cmd)
	cmd.Flags().Bool("dry-run", false, "show the plan without applying it")
	cmd.Flags().String("resolve", "", "conflict strategy: skip, local, remote or interactive")
	cmd.Flags().String("merge-tool", "", "merge command using {local} {remote} {base} {merged}")
	cmd.Flags().Bool("checkpoint", false, "save metadata after every file")
	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	patterns, err := selectionPatterns(cmd, args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		return showPlan(cmd, cfg, patterns)
	}

	ctx := cmd.Context()
	s, err := openSession(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer s.Close()

	selection, err := s.engine.Select(ctx, patterns)
	if err != nil {
		return err
	}

	summary, err := s.engine.Run(ctx, selection)
	if summary != nil {
		renderSummary(cmd.OutOrStdout(), s.instance, summary)
	}
	if err != nil {
		return err
	}
	if summary.HasFailures() {
		return fmt.Errorf("%d of the files failed to sync", len(summary.Failed))
	}
	return nil
}
