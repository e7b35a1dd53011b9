package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tapline/internal/app"
	"tapline/internal/domain"
	"tapline/internal/engine"
	"tapline/internal/refdata"
)

func refdataCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "refdata", Short: "Inspect and import reference data"}
	cmd.AddCommand(refdataListCmd())
	cmd.AddCommand(refdataResolveCmd())
	cmd.AddCommand(refdataImportCmd())
	return cmd
}

func refdataListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [domain]",
		Short: "List reference data, optionally for one domain",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = strings.ToUpper(args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListReferenceData(ctx, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Domain", "Code", "Description", "Next", "Active"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Domain, it.Code, it.Description, it.NextDomain, it.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func refdataResolveCmd() *cobra.Command {
	var c domain.Categorisation
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a partial categorisation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				resolved, path, err := e.Categorise(c)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"categorisation": resolved, "reason_path": path})
			})
		},
	}
	addCategorisationFlags(cmd, &c)
	return cmd
}

func addCategorisationFlags(cmd *cobra.Command, c *domain.Categorisation) {
	cmd.Flags().StringVar(&c.AbsenceType, "absence-type", "", "absence type code")
	cmd.Flags().StringVar(&c.AbsenceSubType, "absence-sub-type", "", "absence sub-type code")
	cmd.Flags().StringVar(&c.AbsenceReasonCategory, "reason-category", "", "absence reason category code")
	cmd.Flags().StringVar(&c.AbsenceReason, "absence-reason", "", "absence reason code")
}

func refdataImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yml>",
		Short: "Import reference data items and links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			seed, err := refdata.ParseSeed(data)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.ImportReferenceData(ctx, seed); err != nil {
					return err
				}
				n, err := rt.Engine.Repo.CountReferenceData(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("imported %d items and %d links; catalog holds %d items\n", len(seed.Items), len(seed.Links), n)
				return nil
			})
		},
	}
}
