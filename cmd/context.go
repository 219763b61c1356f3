package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ultrawork/internal/cli"
	"github.com/zjrosen/ultrawork/internal/explore"
	"github.com/zjrosen/ultrawork/internal/tracing"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage a session's exploration context",
}

var contextInitExpected []string

var contextInitCmd = &cobra.Command{
	Use:   "init [session-id]",
	Short: "Declare the explorers a session expects",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(tracing.SpanPrefixSession+"context.init", func(ctx context.Context, rt *runtime, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		doc, err := rt.contexts.InitContext(ctx, id, contextInitExpected)
		if err != nil {
			return err
		}
		return confirm(rt.printer, doc, "context for %s expects %d explorers", id, len(doc.ExpectedExplorers))
	}),
}

var (
	contextAddExplorer    string
	contextAddHint        string
	contextAddFile        string
	contextAddSummary     string
	contextAddKeyFiles    []string
	contextAddPatterns    []string
	contextAddConstraints []string
)

// contextAddResult pairs the updated context with any merge warnings.
type contextAddResult struct {
	Context  *explore.Context `json:"context"`
	Warnings []string         `json:"warnings,omitempty"`
}

var contextAddCmd = &cobra.Command{
	Use:   "add [session-id]",
	Short: "Record an explorer report and fold in its findings",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(tracing.SpanPrefixSession+"context.add", func(ctx context.Context, rt *runtime, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		doc, warnings, err := rt.contexts.AddExplorer(ctx, id, explore.AddParams{
			Explorer: explore.Explorer{
				ID:      contextAddExplorer,
				Hint:    contextAddHint,
				File:    contextAddFile,
				Summary: contextAddSummary,
			},
			KeyFiles:    contextAddKeyFiles,
			Patterns:    contextAddPatterns,
			Constraints: contextAddConstraints,
		})
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("explorer %s recorded (%d/%d, complete=%t)",
			contextAddExplorer, len(doc.Explorers), len(doc.ExpectedExplorers), doc.ExplorationComplete)
		if len(warnings) > 0 {
			msg += "; " + strings.Join(warnings, "; ")
		}
		return confirm(rt.printer, contextAddResult{Context: doc, Warnings: warnings}, "%s", msg)
	}),
}

var contextShowField string

var contextShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show the aggregated exploration context",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(tracing.SpanPrefixSession+"context.show", func(ctx context.Context, rt *runtime, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		if contextShowField != "" {
			v, err := rt.contexts.GetField(id, contextShowField)
			if err != nil {
				return err
			}
			return printField(rt.printer, v)
		}
		doc, err := rt.contexts.Get(id)
		if err != nil {
			return err
		}
		return rt.printer.Result(doc, func(w io.Writer) error {
			f := cli.NewFields()
			f.Add("expected", strings.Join(doc.ExpectedExplorers, ", "))
			f.Addf("reported", "%d", len(doc.Explorers))
			f.Addf("complete", "%t", doc.ExplorationComplete)
			if len(doc.KeyFiles) > 0 {
				f.Add("key_files", strings.Join(doc.KeyFiles, ", "))
			}
			if len(doc.Patterns) > 0 {
				f.Add("patterns", strings.Join(doc.Patterns, "; "))
			}
			if len(doc.Constraints) > 0 {
				f.Add("constraints", strings.Join(doc.Constraints, "; "))
			}
			if err := f.Render(w); err != nil {
				return err
			}
			if len(doc.Explorers) == 0 {
				return nil
			}
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
			tbl := cli.NewTable("EXPLORER", "FILE", "SUMMARY").Limit(2, 60)
			for _, e := range doc.Explorers {
				tbl.AddRow(e.ID, e.File, e.Summary)
			}
			return tbl.Render(w)
		})
	}),
}

func init() {
	contextInitCmd.Flags().StringSliceVar(&contextInitExpected, "expected", nil, "explorer ids the session waits for")

	a := contextAddCmd.Flags()
	a.StringVar(&contextAddExplorer, "explorer", "", "explorer id")
	a.StringVar(&contextAddHint, "hint", "", "what the explorer was pointed at")
	a.StringVar(&contextAddFile, "file", "", "report file path")
	a.StringVar(&contextAddSummary, "summary", "", "one-line finding")
	a.StringSliceVar(&contextAddKeyFiles, "key-files", nil, "files worth reading first")
	a.StringSliceVar(&contextAddPatterns, "patterns", nil, "codebase patterns observed")
	a.StringSliceVar(&contextAddConstraints, "constraints", nil, "constraints discovered")
	_ = contextAddCmd.MarkFlagRequired("explorer")

	contextShowCmd.Flags().StringVar(&contextShowField, "field", "", "dotted field path, e.g. key_files")

	contextCmd.AddCommand(contextInitCmd, contextAddCmd, contextShowCmd)
	rootCmd.AddCommand(contextCmd)
}
