package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/marginalia/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database   string
	Session    string
	Kind       string // optional - filter to one entry kind
	Annotation int64  // optional - filter to one annotation
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Session  string          `json:"session,omitempty"`
	Sessions []string        `json:"sessions,omitempty"`
	Timeline []journal.Entry `json:"timeline"`
	Stats    TraceStats      `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEntries int            `json:"total_entries"`
	ByKind       map[string]int `json:"by_kind"`
	FinalState   string         `json:"final_state,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journaled lifecycle of a session",
		Long: `Show the journaled lifecycle transitions recorded by a session.

Without --session the whole journal is shown along with the list of
recorded sessions. --kind and --annotation narrow the timeline.

Examples:
  marginalia trace --db ./trace.db
  marginalia trace --db ./trace.db --session 0192c1f0-...
  marginalia trace --db ./trace.db --annotation 3 --kind save
  marginalia trace --db ./trace.db --session s-001 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session token to trace")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter to one entry kind")
	cmd.Flags().Int64Var(&opts.Annotation, "annotation", 0, "filter to one annotation id")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	result, err := buildTrace(ctx, j, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	if opts.Session != "" && result.Stats.FinalState == "" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		msg := fmt.Sprintf("no entries found for session: %s", opts.Session)
		_ = formatter.Error(ErrCodeSessionEmpty, msg, nil)
		return NewExitError(ExitFailure, msg)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

func buildTrace(ctx context.Context, j *journal.Journal, opts *TraceOptions) (TraceResult, error) {
	result := TraceResult{Session: opts.Session}

	if opts.Session != "" {
		session, err := j.ReadSession(ctx, opts.Session)
		if err != nil {
			return result, err
		}
		if n := len(session); n > 0 {
			result.Stats.FinalState = session[n-1].State
		}
	} else {
		sessions, err := j.Sessions(ctx)
		if err != nil {
			return result, err
		}
		result.Sessions = sessions
	}

	timeline, err := j.Read(ctx, journal.Filter{
		Session:      opts.Session,
		Kind:         opts.Kind,
		AnnotationID: opts.Annotation,
	})
	if err != nil {
		return result, err
	}
	result.Timeline = timeline
	result.Stats.TotalEntries = len(timeline)
	result.Stats.ByKind = map[string]int{}
	for _, e := range timeline {
		result.Stats.ByKind[e.Kind]++
	}
	return result, nil
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	if result.Session != "" {
		fmt.Fprintf(w, "Trace for Session: %s\n", result.Session)
		fmt.Fprintf(w, "Final State: %s\n", result.Stats.FinalState)
	} else {
		fmt.Fprintf(w, "Sessions: %d\n", len(result.Sessions))
		for _, s := range result.Sessions {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no entries)")
	}
	for _, e := range result.Timeline {
		formatTimelineEntry(w, e, result.Session == "", verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Entries: %d\n", result.Stats.TotalEntries)
	kinds := make([]string, 0, len(result.Stats.ByKind))
	for k := range result.Stats.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-10s %d\n", k+":", result.Stats.ByKind[k])
	}
	return nil
}

// formatTimelineEntry formats a single entry for text output.
func formatTimelineEntry(w io.Writer, e journal.Entry, withSession, verbose bool) {
	line := fmt.Sprintf("  [%d] %s -> %s", e.Seq, e.Kind, e.State)
	if e.AnnotationID != 0 {
		line += fmt.Sprintf(" #%d", e.AnnotationID)
	}
	if withSession {
		line += fmt.Sprintf(" (%s)", e.Session)
	}
	fmt.Fprintln(w, line)
	if verbose && len(e.Detail) > 0 {
		fmt.Fprintf(w, "       Detail: %s\n", formatArgs(e.Detail))
	}
}

// formatArgs formats a map for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", val)
	}
}
