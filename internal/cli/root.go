package cli

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RootOptions carries the persistent flag values every subcommand reads.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	DataDir string // directory searched for trellis.yaml defaults
}

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the trellis command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "trellis",
		Short: "Trellis node graph compiler and runtime",
		Long: `Compile node graph documents into stable-identity updates and evaluate
them incrementally. A document is a YAML file of nodes and wires; every
node hashes to a content-derived identity, so recompiling after an edit
only touches the identities the edit actually changed.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := mergeConfig(cmd, opts); err != nil {
				return err
			}
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q (valid: %s)", opts.Format, strings.Join(ValidFormats, ", "))
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose diagnostics on stderr")
	pf.StringVar(&opts.Format, "format", "text", "output format, text or json")
	pf.StringVar(&opts.DataDir, "data-dir", ".", "directory searched for trellis.yaml defaults")

	cmd.AddCommand(
		NewValidateCommand(opts),
		NewCompileCommand(opts),
		NewRunCommand(opts),
		NewInspectCommand(opts),
		NewTestCommand(opts),
		NewLogCommand(opts),
		NewReplayCommand(opts),
	)

	return cmd
}

// mergeConfig overlays trellis.yaml defaults under the command line. A
// flag set explicitly on the invocation always wins; the file only fills
// in what was left at its default.
func mergeConfig(cmd *cobra.Command, opts *RootOptions) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	v.SetConfigName("trellis")
	v.SetConfigType("yaml")
	v.AddConfigPath(opts.DataDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading %s: %w", v.ConfigFileUsed(), err)
		}
		// No config file is the common case; flags stand alone.
		return nil
	}

	opts.Format = v.GetString("format")
	opts.Verbose = v.GetBool("verbose")
	return nil
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
