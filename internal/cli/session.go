package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/marginalia/internal/annotation"
	"github.com/roach88/marginalia/internal/binding"
	"github.com/roach88/marginalia/internal/config"
	"github.com/roach88/marginalia/internal/engine"
	"github.com/roach88/marginalia/internal/harness"
	"github.com/roach88/marginalia/internal/journal"
	"github.com/roach88/marginalia/internal/surface"
)

// SessionOptions holds flags for the session command.
type SessionOptions struct {
	*RootOptions
	Database string
	Config   string
	Out      string

	// Sessions overrides the session token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	Sessions engine.SessionGenerator
}

// SessionResult is the outcome of a scripted session.
type SessionResult struct {
	Name     string                   `json:"name"`
	Pass     bool                     `json:"pass"`
	State    string                   `json:"state"`
	Surface  string                   `json:"surface"`
	Sessions []string                 `json:"sessions"`
	Entries  int                      `json:"entries"`
	Export   []*annotation.Annotation `json:"export"`
	Errors   []string                 `json:"errors,omitempty"`
}

// NewSessionCommand creates the session command.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "session <script.yaml>",
		Short: "Run a scripted annotator session",
		Long: `Run a scripted annotator session and record it to a journal.

The script uses the scenario format of the test command. Engine settings
come from the config file; the script's own options take precedence.
Without --db (or a journal in the config) the trace is kept in memory.

Examples:
  marginalia session ./session.yaml
  marginalia session ./session.yaml --db ./trace.db --config ./marginalia.cue
  marginalia session ./session.yaml --out ./notes.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (default: config journal, else in-memory)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to config file or directory")
	cmd.Flags().StringVar(&opts.Out, "out", "", "write the exported model to this file (.yaml or .json)")

	return cmd
}

func runSession(opts *SessionOptions, scriptPath string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	scenario, err := harness.LoadScenario(scriptPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load session script", err)
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Journal
	}
	if dbPath == "" {
		dbPath = ":memory:"
	}

	logger.Debug("opening journal", "path", dbPath)
	j, err := journal.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer func() {
		if closeErr := j.Close(); closeErr != nil {
			logger.Error("error closing journal", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	last, err := j.LastSeq(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	env, err := envFromConfig(cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	env.Journal = j
	env.Sequencer = engine.NewClockAt(last)
	env.Sessions = opts.Sessions
	if env.Sessions == nil {
		env.Sessions = engine.UUIDv7Generator{}
	}

	logger.Info("session starting", "script", scriptPath, "journal", dbPath, "resume_seq", last)
	result, err := harness.RunIn(scenario, env)
	if err != nil {
		return WrapExitError(ExitCommandError, "session failed", err)
	}

	if opts.Out != "" {
		if err := binding.NewFile(opts.Out).SetViewValue(result.Export); err != nil {
			return WrapExitError(ExitCommandError, "failed to write model", err)
		}
		logger.Info("model written", "path", opts.Out, "annotations", len(result.Export))
	}

	out := SessionResult{
		Name:     scenario.Name,
		Pass:     result.Pass,
		State:    result.State,
		Surface:  result.Surface,
		Sessions: sessionsOf(result.Trace),
		Entries:  len(result.Trace),
		Export:   result.Export,
		Errors:   result.Errors,
	}
	if err := outputSession(formatter, out); err != nil {
		return err
	}
	if !out.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("session %s: %d assertion(s) failed", out.Name, len(out.Errors)))
	}
	return nil
}

// loadConfig loads path, or the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// envFromConfig translates a config into the harness environment.
func envFromConfig(cfg *config.Config, logger *slog.Logger) (harness.Env, error) {
	policy, err := engine.ParseEditCancel(cfg.EditCancel)
	if err != nil {
		return harness.Env{}, err
	}

	templates := surface.DefaultTemplates()
	if cfg.TemplateDir != "" {
		if _, err := os.Stat(cfg.TemplateDir); err != nil {
			return harness.Env{}, fmt.Errorf("template_dir: %w", err)
		}
		templates = surface.OverlayFS{Primary: os.DirFS(cfg.TemplateDir), Fallback: templates}
	}

	return harness.Env{
		Fetcher: surface.NewFSFetcher(templates),
		Templates: map[surface.Kind]string{
			surface.KindCreate: cfg.Templates.Create,
			surface.KindEdit:   cfg.Templates.Edit,
			surface.KindView:   cfg.Templates.View,
		},
		Options: []engine.Option{
			engine.WithQuoteSeparator(cfg.QuoteSeparator),
			engine.WithIgnoreSelector(cfg.IgnoreSelector),
			engine.WithEditCancel(policy),
		},
		Logger: logger,
	}, nil
}

// sessionsOf lists session tokens in order of first appearance.
func sessionsOf(trace []harness.TraceEvent) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range trace {
		if !seen[e.Session] {
			seen[e.Session] = true
			out = append(out, e.Session)
		}
	}
	return out
}

func outputSession(f *OutputFormatter, r SessionResult) error {
	if f.IsJSON() {
		resp := CLIResponse{Status: "ok", Data: r}
		if !r.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeScenario,
				Message: fmt.Sprintf("%d assertion(s) failed", len(r.Errors)),
			}
		}
		return writeJSON(f.Writer, resp)
	}

	w := f.Writer
	mark := "✓"
	if !r.Pass {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s\n", mark, r.Name)
	fmt.Fprintf(w, "  state: %s, surface: %s\n", r.State, r.Surface)
	fmt.Fprintf(w, "  %d journal entries across %d session(s)\n", r.Entries, len(r.Sessions))
	fmt.Fprintf(w, "  %d annotation(s) exported\n", len(r.Export))
	for _, a := range r.Export {
		fmt.Fprintf(w, "    #%d %q\n", a.ID, a.Quote)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return nil
}
