package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/service"
)

// lifecycleFlags names one assertion lifecycle on the command line.
type lifecycleFlags struct {
	document string
	key      string
	actor    string
}

func (f *lifecycleFlags) register(cmd *cobra.Command, withActor bool) {
	cmd.Flags().StringVar(&f.document, "document", "", "document id")
	cmd.Flags().StringVar(&f.key, "key", "", "assertion key or alias")
	_ = cmd.MarkFlagRequired("document")
	_ = cmd.MarkFlagRequired("key")
	if withActor {
		cmd.Flags().StringVar(&f.actor, "actor", "", "arbitrator identity (default identity.dev_actor)")
	}
}

func (c *cli) arbitrator(f *lifecycleFlags) (string, error) {
	if f.actor != "" {
		return f.actor, nil
	}
	if c.cfg.Identity.DevActor != "" {
		return c.cfg.Identity.DevActor, nil
	}
	return "", fmt.Errorf("--actor is required")
}

func (c *cli) arbitrateCmd() *cobra.Command {
	var (
		lf        lifecycleFlags
		decision  string
		comment   string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "arbitrate",
		Short: "Record an arbitration decision on a conflicting lifecycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := c.arbitrator(&lf)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				out, err := a.arbitration.Decide(ctx, service.DecideRequest{
					DocumentID: lf.document,
					Key:        lf.key,
					Decision:   review.ParseAction(decision),
					Actor:      actor,
					Comment:    comment,
					Force:      overwrite,
				})
				if err != nil {
					return err
				}
				return c.printOutcome(cmd.OutOrStdout(), out)
			})
		},
	}
	lf.register(cmd, true)
	cmd.Flags().StringVar(&decision, "decision", "", "accept, modify, reject or uncertain")
	cmd.Flags().StringVar(&comment, "comment", "", "reason shown to reviewers")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "arbitrate even when the lifecycle is not in conflict")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func (c *cli) undoCmd() *cobra.Command {
	var (
		lf     lifecycleFlags
		reason string
	)
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Withdraw the arbitration in force on a lifecycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := c.arbitrator(&lf)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				out, err := a.arbitration.Undo(ctx, service.UndoRequest{
					DocumentID: lf.document,
					Key:        lf.key,
					Actor:      actor,
					Reason:     reason,
				})
				if err != nil {
					return err
				}
				return c.printOutcome(cmd.OutOrStdout(), out)
			})
		},
	}
	lf.register(cmd, true)
	cmd.Flags().StringVar(&reason, "reason", "", "why the arbitration is withdrawn")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var lf lifecycleFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the arbitration records of a lifecycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				recs, err := a.arbitration.History(ctx, lf.document, lf.key)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if !c.tableOutput(w) {
					return printJSON(w, recs)
				}
				tw := newTable(w)
				_, _ = fmt.Fprintln(tw, "WHEN\tACTION\tDECISION\tACTOR\tPRIOR\tNOTE")
				for i := range recs {
					r := &recs[i]
					decision := "-"
					if r.ArbitrateDecision != review.ActionUnknown {
						decision = r.ArbitrateDecision.String()
					}
					note := r.Comment
					if note == "" {
						note = r.Reason
					}
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						fmtTime(r.CreatedAt), r.Action, decision, r.Actor, r.PriorVerdict, note)
				}
				return tw.Flush()
			})
		},
	}
	lf.register(cmd, false)
	return cmd
}

func (c *cli) printOutcome(w io.Writer, out *service.ArbitrationOutcome) error {
	if !c.tableOutput(w) {
		return printJSON(w, out)
	}
	state := "recorded"
	if !out.Created {
		state = "already in force"
	}
	_, err := fmt.Fprintf(w, "%s %s on %s/%s: %s (record %s)\n",
		out.Record.Action, state, out.Record.DocumentID, out.Key, out.Verdict, out.Record.ID)
	return err
}
