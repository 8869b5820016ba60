// Command ormctl inspects and maintains the entity mappings of an
// application module: it lists the mapped classes, creates or drops
// their tables and generates typed proxies.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/easybib/ormresource"
	"github.com/easybib/ormresource/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// flags are the persistent flags shared by all commands.
type flags struct {
	config    string
	env       string
	root      string
	module    string
	appDir    string
	verbosity int

	timestampable bool
	sluggable     bool
	tree          bool
	profile       bool
	bibplatform   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:          "ormctl",
		Short:        "ormctl - entity mapping maintenance",
		Long:         `ormctl loads the resource configuration of an application module and works on its entity mappings, tables and proxies.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogging(cmd.ErrOrStderr(), f.verbosity)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", "", "configuration file (.ini, .yaml or .yml)")
	pf.StringVarP(&f.env, "env", "e", "", "configuration environment (ini section or yaml key)")
	pf.StringVarP(&f.root, "root", "r", ".", "application root path")
	pf.StringVarP(&f.module, "module", "m", "default", "application module")
	pf.StringVar(&f.appDir, "app-dir", "app", `application directory, "app" or "application"`)
	pf.CountVarP(&f.verbosity, "verbose", "v", "increase verbosity (-v info, -vv debug)")
	pf.BoolVar(&f.timestampable, "timestampable", false, "register the timestampable listener")
	pf.BoolVar(&f.sluggable, "sluggable", false, "register the sluggable listener")
	pf.BoolVar(&f.tree, "tree", false, "register the tree listener")
	pf.BoolVar(&f.profile, "profile", false, "echo every SQL statement")
	pf.BoolVar(&f.bibplatform, "bibplatform", false, "use the MySQL platform without foreign keys")

	root.AddCommand(
		metadataCmd(f),
		schemaCmd(f),
		proxyCmd(f),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "ormctl %s (commit: %s, built: %s)\n", version, commit, date)
			},
		},
	)
	return root
}

// resource loads the configuration and returns the resource described by
// the flags. Profiled statements are echoed to the command output.
func (f *flags) resource(cmd *cobra.Command) (*ormresource.Resource, error) {
	if f.config == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.LoadFile(f.config, f.env)
	if err != nil {
		return nil, err
	}
	r, err := ormresource.New(cfg, f.root, f.module, map[string]any{
		ormresource.OptionTimestampable: f.timestampable,
		ormresource.OptionSluggable:     f.sluggable,
		ormresource.OptionTree:          f.tree,
		ormresource.OptionProfile:       f.profile,
		ormresource.OptionBibPlatform:   f.bibplatform,
	},
		ormresource.WithLogger(slog.Default()),
		ormresource.WithProfileWriter(cmd.OutOrStdout()),
	)
	if err != nil {
		return nil, err
	}
	if err := r.SetAppDir(f.appDir); err != nil {
		return nil, err
	}
	return r, nil
}

func setupLogging(w io.Writer, verbosity int) {
	level := slog.LevelWarn
	switch {
	case verbosity == 1:
		level = slog.LevelInfo
	case verbosity > 1:
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
