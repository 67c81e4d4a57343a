// Package app is the command-line front end of the pixel backend.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bakaf/pixel/internal/backend"
	"github.com/bakaf/pixel/internal/config"
	"github.com/bakaf/pixel/internal/logging"
	"github.com/bakaf/pixel/internal/platform"
)

// runner carries what the commands need. Tests replace the builders.
type runner struct {
	loadConfig func() (config.Config, error)
	build      func(ctx context.Context, cfg config.Config) (platform.Client, cleanupFunc, error)
	logOutput  io.Writer

	cfg config.Config
}

func defaultRunner() *runner {
	return &runner{
		loadConfig: config.Load,
		build:      buildDependencies,
		logOutput:  os.Stderr,
	}
}

// Run executes the CLI with args.
func Run(ctx context.Context, args []string) error {
	root := newRootCommand(defaultRunner())
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(r *runner) *cobra.Command {
	root := &cobra.Command{
		Use:           "pixel",
		Short:         "pixel talks to the video sharing backend",
		Long:          `A command-line client for accounts, profiles, posts and media of the pixel video sharing app.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := r.loadConfig()
			if err != nil {
				return err
			}
			r.cfg = cfg

			logger := slog.New(slog.NewJSONHandler(r.logOutput, &slog.HandlerOptions{
				AddSource: true,
				Level:     logging.ParseLevel(cfg.LogLevel),
			}))
			slog.SetDefault(logger)
			cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
			return nil
		},
	}

	root.AddCommand(
		newSignUpCommand(r),
		newSignInCommand(r),
		newSignOutCommand(r),
		newAccountCommand(r),
		newWhoAmICommand(r),
		newPostsCommand(r),
		newPostCommand(r),
		newUploadCommand(r),
		newPreviewCommand(r),
		newProfileCommand(r),
		newMigrateCommand(r),
	)
	return root
}

// withFacade builds the configured provider, runs fn and releases the provider.
func (r *runner) withFacade(cmd *cobra.Command, fn func(ctx context.Context, f *backend.Facade) error) error {
	ctx := cmd.Context()
	client, cleanup, err := r.build(ctx, r.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(context.WithoutCancel(ctx)); err != nil {
			logging.FromContext(ctx).Warn("release provider", "error", err)
		}
	}()

	facade, err := backend.New(client, backend.Collections{
		DatabaseID:       r.cfg.DatabaseID,
		UserCollectionID: r.cfg.UserCollectionID,
		PostCollectionID: r.cfg.PostCollectionID,
		StorageID:        r.cfg.StorageID,
	})
	if err != nil {
		return err
	}
	return fn(ctx, facade)
}

func printYAML(w io.Writer, v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = w.Write(out)
	return err
}
