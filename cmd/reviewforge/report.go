package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Strob0t/ReviewForge/internal/service"
)

func (c *cli) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every final decision as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				out = c.cfg.Export.Path
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if out == "-" {
					_, err := a.consensus.ExportFinal(ctx, cmd.OutOrStdout())
					return err
				}
				n, err := exportToFile(ctx, a.consensus, out)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d final decisions to %s\n", n, out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", `output file ("-" for stdout; default export.path)`)
	return cmd
}

// exportToFile writes through a temporary file so that readers never see a
// partial export.
func exportToFile(ctx context.Context, consensus *service.ConsensusService, path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return 0, fmt.Errorf("create export file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := consensus.ExportFinal(ctx, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, fmt.Errorf("publish export: %w", err)
	}
	slog.Info("final decisions exported", "count", n, "path", path)
	return n, nil
}

func (c *cli) overviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Count conflicting lifecycles per document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				ov, err := a.consensus.ConflictOverview(ctx)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if !c.tableOutput(w) {
					return printJSON(w, ov)
				}
				return printOverview(w, ov)
			})
		},
	}
}

func printOverview(w io.Writer, ov *service.ConflictOverview) error {
	docs := make([]string, 0, len(ov.PerDocument))
	for d := range ov.PerDocument {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		if ov.PerDocument[docs[i]] != ov.PerDocument[docs[j]] {
			return ov.PerDocument[docs[i]] > ov.PerDocument[docs[j]]
		}
		return docs[i] < docs[j]
	})
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "DOCUMENT\tCONFLICTS")
	for _, d := range docs {
		_, _ = fmt.Fprintf(tw, "%s\t%d\n", d, ov.PerDocument[d])
	}
	_, _ = fmt.Fprintf(tw, "\n%d conflicts across %d documents\n", ov.Conflicts, ov.TotalDocuments)
	return tw.Flush()
}

func (c *cli) queueCmd() *cobra.Command {
	opts := service.DefaultQueueOptions()
	var all bool
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List lifecycles awaiting arbitration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.OnlyConflicts = !all
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.arbitration.Queue(ctx, opts)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if !c.tableOutput(w) {
					return printJSON(w, res)
				}
				tw := newTable(w)
				_, _ = fmt.Fprintln(tw, "DOCUMENT\tASSERTION\tSTATUS\tREVIEWERS\tUPDATED\tREASON")
				for i := range res.Items {
					ev := &res.Items[i]
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", ev.DocumentID, ev.Key, ev.Verdict,
						strings.Join(ev.Reviewers, ","), fmtTime(ev.LastUpdated), ev.ConflictReason)
				}
				_, _ = fmt.Fprintf(tw, "\n%d items (%d conflicts, %d pending, %d uncertain)\n",
					res.Summary.Total, res.Summary.Conflicts, res.Summary.Pending, res.Summary.Uncertain)
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&opts.DocumentID, "document", "", "restrict to one document")
	cmd.Flags().BoolVar(&opts.IncludePending, "include-pending", false, "also list pending and uncertain lifecycles")
	cmd.Flags().BoolVar(&all, "all", false, "also list lifecycles that reached consensus")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of items (0 = no limit)")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	var since, until string
	cmd := &cobra.Command{
		Use:   "stats <reviewer>",
		Short: "Show a reviewer's workload and commission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseFlagTime(since)
			if err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			to, err := parseFlagTime(until)
			if err != nil {
				return fmt.Errorf("--until: %w", err)
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				st, err := a.consensus.ReviewerStats(ctx, args[0], from, to)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if !c.tableOutput(w) {
					return printJSON(w, st)
				}
				tw := newTable(w)
				_, _ = fmt.Fprintln(tw, "REVIEWER\tDOCUMENTS\tADDED\tCOMMISSION")
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\n", st.Actor, st.DocumentsReviewed, st.AssertionsAdded, st.Commission)
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "window start (RFC 3339)")
	cmd.Flags().StringVar(&until, "until", "", "window end (RFC 3339)")
	return cmd
}
