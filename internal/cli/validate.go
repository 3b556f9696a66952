package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/marginalia/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Config *config.Config    `json:"config,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError locates a config problem.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate an annotator config",
		Long: `Validate a CUE annotator config against the built-in schema.

The argument is a config file, or a directory holding a CUE package.
On success the resolved config, defaults included, is printed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	formatter.VerboseLog("Loading config from %s", path)
	cfg, err := config.Load(path)
	if err != nil {
		var le *config.LoadError
		if !errors.As(err, &le) {
			_ = formatter.Error(config.ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "validation error", err)
		}
		if le.Code == config.ErrCodeNotFound {
			_ = formatter.Error(le.Code, le.Message, nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", le.Code, le.Message))
		}
		return outputValidationError(formatter, validationErrorFrom(le))
	}

	if formatter.IsJSON() {
		return formatter.Success(ValidationResult{Valid: true, Config: cfg})
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✓ Config valid")
	fmt.Fprintf(w, "  templates: create=%s edit=%s view=%s\n", cfg.Templates.Create, cfg.Templates.Edit, cfg.Templates.View)
	fmt.Fprintf(w, "  quote_separator: %q\n", cfg.QuoteSeparator)
	fmt.Fprintf(w, "  ignore_selector: %q\n", cfg.IgnoreSelector)
	fmt.Fprintf(w, "  edit_cancel: %s\n", cfg.EditCancel)
	if cfg.TemplateDir != "" {
		fmt.Fprintf(w, "  template_dir: %s\n", cfg.TemplateDir)
	}
	if cfg.Journal != "" {
		fmt.Fprintf(w, "  journal: %s\n", cfg.Journal)
	}
	return nil
}

func validationErrorFrom(le *config.LoadError) ValidationError {
	ve := ValidationError{Code: le.Code, Message: le.Message}
	if le.Pos.IsValid() {
		ve.File = le.Pos.Filename()
		ve.Line = le.Pos.Line()
		ve.Column = le.Pos.Column()
	}
	return ve
}

// outputValidationError reports a config that failed to validate.
func outputValidationError(formatter *OutputFormatter, ve ValidationError) error {
	if formatter.IsJSON() {
		err := writeJSON(formatter.Writer, CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: []ValidationError{ve}},
			Error:  &CLIError{Code: ve.Code, Message: ve.Message},
		})
		if err != nil {
			return err
		}
		return NewExitError(ExitFailure, "validation failed")
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	if ve.Line > 0 {
		fmt.Fprintf(w, "%s:%d:%d\n", ve.File, ve.Line, ve.Column)
	}
	fmt.Fprintf(w, "  %s: %s\n", ve.Code, ve.Message)

	return NewExitError(ExitFailure, "validation failed")
}
