// Package commands implements the techread CLI.
package commands

import (
	"context"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical/techread/cmd/techread/ui"
	"github.com/spherical/techread/internal/observability"
	"github.com/spherical/techread/pkg/techread"
)

var (
	cfgFile     string
	licensePath string
	envOnly     bool
	verbose     bool
	noColor     bool
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:   "techread",
	Short: "Submit technical drawings to the techread analysis service",
	Long: `techread sends a technical drawing (and optionally its 3D model) to the
techread service and saves the thumbnails, measures, title blocks and other
results it streams back.

Credentials are read from a .techread license file in the working directory,
the file given with --license, or TECHREAD_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&licensePath, "license", "l", "", "license file (default ./.techread if present)")
	rootCmd.PersistentFlags().BoolVar(&envOnly, "env-only", false, "ignore license files, use TECHREAD_* variables only")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON lines")
}

// Execute runs the root command and reports a failure on stderr.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		newUI().Error("%v", err)
	}
	return err
}

func newUI() *ui.UI {
	return ui.New(jsonOutput, noColor)
}

// openClient builds a client from the persistent flags. Each invocation
// logs under its own trace id.
func openClient(ctx context.Context) (*techread.Client, context.Context, error) {
	ctx = observability.ContextWithTraceID(ctx, uuid.NewString())

	opts := []techread.Option{techread.WithConfigFile(cfgFile)}
	if envOnly {
		opts = append(opts, techread.WithEnvironmentOnly())
	}
	if verbose {
		logger := techread.NewLogger(techread.LogConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "techread",
		})
		opts = append(opts, techread.WithLogger(logger.WithContext(ctx)))
	}

	client, err := techread.OpenFromEnvironment(licensePath, opts...)
	if err != nil {
		return nil, ctx, err
	}
	return client, ctx, nil
}
