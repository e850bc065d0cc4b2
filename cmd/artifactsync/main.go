package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/artifactsync/internal/utils"
	"github.com/openmined/artifactsync/internal/version"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var logFile io.Closer
	root := &cobra.Command{
		Use:     version.AppName,
		Short:   "Mirror recipes, plugins and libraries between a workspace and a content server",
		Version: version.Detailed(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
			logFile, err = setupLogger(cmd)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logFile == nil {
				return nil
			}
			return logFile.Close()
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default ~/.artifactsync/config.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	root.PersistentFlags().String("log-file", "", "also write debug logs to this file")

	root.AddCommand(
		newSyncCmd(),
		newStatusCmd(),
		newDevServerCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupLogger installs the default logger. With --log-file set, records are
// also written to the file at debug level. The returned closer is nil when
// no file was opened.
func setupLogger(cmd *cobra.Command) (io.Closer, error) {
	levelFlag, _ := cmd.Flags().GetString("log-level")
	logPath, _ := cmd.Flags().GetString("log-file")

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(levelFlag))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", levelFlag)
	}

	out := cmd.ErrOrStderr()
	var handler slog.Handler = tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isTerminal(out),
	})

	var file *os.File
	if logPath != "" {
		path, err := utils.ResolvePath(logPath)
		if err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		if err := utils.EnsureParent(path); err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		handler = utils.NewTeeHandler(handler, slog.NewTextHandler(file, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	slog.SetDefault(slog.New(handler))
	if file == nil {
		return nil, nil
	}
	return file, nil
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
