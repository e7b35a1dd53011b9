package main

import (
	"context"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tapline/internal/app"
	"tapline/internal/engine"
	"tapline/internal/outbox"
)

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Inspect the event outbox"}
	cmd.AddCommand(logTailCmd())
	cmd.AddCommand(logStatsCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f outbox.RecentFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent outbox events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				store, closeStore, err := rt.OutboxStore(ctx)
				if err != nil {
					return err
				}
				defer closeStore()
				records, err := store.Recent(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Person", "Entity", "Source", "Published", "Attempts"})
				for _, r := range records {
					tw.AppendRow(table.Row{r.ID, r.Message.Type, r.Message.PersonIdentifier, r.Message.EntityID,
						r.Message.Source, r.Published, r.Attempts})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	cmd.Flags().BoolVar(&f.UnpublishedOnly, "unpublished", false, "only unpublished events")
	return cmd
}

func logStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count pending and claimed outbox rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				store, closeStore, err := rt.OutboxStore(ctx)
				if err != nil {
					return err
				}
				defer closeStore()
				stats, err := store.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
}

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit <entity-id>",
		Short: "Show the audit trail of an authorisation, occurrence or movement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.ListAudit(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Kind", "Action", "Actor", "Source", "Reason"})
				for _, a := range entries {
					tw.AppendRow(table.Row{a.TS.Format("2006-01-02 15:04:05"), a.EntityKind, a.Action, a.ActorID, a.Source, a.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries (0 for all)")
	return cmd
}
