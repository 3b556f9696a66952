package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/marginalia/internal/annotation"
	"github.com/roach88/marginalia/internal/binding"
	"github.com/roach88/marginalia/internal/store"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Out       string
	Canonical bool
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <model>",
		Short: "Normalize a model file through the store",
		Long: `Load a model file into the annotation store and print its export.

Annotations without an id are assigned fresh ones after the highest id
in the file. The export is ordered by id, with local state dropped.
Files ending in .json are read as JSON, anything else as YAML.

Examples:
  marginalia export ./notes.yaml
  marginalia export ./notes.yaml --out ./notes.json
  marginalia export ./notes.json --canonical`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write the export to this file instead of stdout")
	cmd.Flags().BoolVar(&opts.Canonical, "canonical", false, "print one canonical JSON line per annotation")

	return cmd
}

func runExport(opts *ExportOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error(ErrCodeModel, fmt.Sprintf("model not found: %s", path), nil)
		return WrapExitError(ExitCommandError, "model not found", err)
	}

	initial, err := binding.NewFile(path).Value()
	if err != nil {
		_ = formatter.Error(ErrCodeModel, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read model", err)
	}

	st := store.New()
	st.SetMany(initial)
	exported := st.Export()
	formatter.VerboseLog("Loaded %d annotation(s) from %s", len(exported), path)

	if opts.Out != "" {
		if err := binding.NewFile(opts.Out).SetViewValue(exported); err != nil {
			return WrapExitError(ExitCommandError, "failed to write export", err)
		}
		return formatter.Success(fmt.Sprintf("✓ %d annotation(s) written to %s", len(exported), opts.Out))
	}

	if opts.Canonical {
		w := cmd.OutOrStdout()
		for _, a := range exported {
			line, err := annotation.MarshalCanonical(a.Object())
			if err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("annotation %d is not canonical", a.ID), err)
			}
			fmt.Fprintln(w, string(line))
		}
		return nil
	}

	if formatter.IsJSON() {
		return formatter.Success(exported)
	}

	data, err := binding.Encode(exported, false)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode export", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
