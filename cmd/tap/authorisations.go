package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tapline/internal/domain"
	"tapline/internal/engine"
	"tapline/internal/repo"
)

func authorisationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "authorisation", Aliases: []string{"auth"}, Short: "Manage absence authorisations"}
	cmd.AddCommand(authorisationCreateCmd())
	cmd.AddCommand(authorisationShowCmd())
	cmd.AddCommand(authorisationListCmd())
	cmd.AddCommand(authorisationTransitionCmd("approve", "Approve a pending authorisation", engine.Engine.ApproveAuthorisation))
	cmd.AddCommand(authorisationTransitionCmd("deny", "Deny a pending authorisation", engine.Engine.DenyAuthorisation))
	cmd.AddCommand(authorisationTransitionCmd("cancel", "Cancel an authorisation and its open occurrences", engine.Engine.CancelAuthorisation))
	cmd.AddCommand(authorisationTransitionCmd("defer", "Leave a pending authorisation pending", engine.Engine.DeferAuthorisation))
	cmd.AddCommand(authorisationDateRangeCmd())
	cmd.AddCommand(authorisationCategoriseCmd())
	cmd.AddCommand(authorisationDetailsCmd())
	cmd.AddCommand(authorisationGenerateCmd())
	return cmd
}

func authorisationCreateCmd() *cobra.Command {
	var opts engine.AuthorisationCreateOptions
	var start, end, scheduleStart, scheduleReturn string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an authorisation",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.Start, err = parseTime("start", start); err != nil {
				return err
			}
			if opts.End, err = parseTime("end", end); err != nil {
				return err
			}
			if scheduleStart != "" || scheduleReturn != "" {
				opts.Schedule = &domain.Schedule{Start: scheduleStart, Return: scheduleReturn}
				opts.Repeat = true
			}
			opts.Actor = actor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAuthorisation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.ID, "id", "", "authorisation id (generated when empty)")
	f.StringVar(&opts.PersonIdentifier, "person", "", "person identifier")
	f.StringVar(&opts.PrisonCode, "prison", "", "prison code")
	f.StringVar(&start, "start", "", "start time")
	f.StringVar(&end, "end", "", "end time")
	f.BoolVar(&opts.Repeat, "repeat", false, "repeat authorisation with several occurrences")
	f.StringVar(&scheduleStart, "schedule-start", "", "daily departure time HH:MM (implies --repeat)")
	f.StringVar(&scheduleReturn, "schedule-return", "", "daily return time HH:MM")
	f.StringVar(&opts.Accompaniment, "accompaniment", "", "accompanied-by code")
	f.StringVar(&opts.Transport, "transport", "", "transport code")
	f.StringVar(&opts.Comments, "comments", "", "comments")
	f.StringVar(&opts.Location, "location", "", "location of the single occurrence")
	f.BoolVar(&opts.Approved, "approved", false, "create already approved")
	addCategorisationFlags(cmd, &opts.Categorisation)
	_ = cmd.MarkFlagRequired("person")
	_ = cmd.MarkFlagRequired("prison")
	return cmd
}

func authorisationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an authorisation with its occurrences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAuthorisation(ctx, args[0])
				if err != nil {
					return err
				}
				occurrences, err := e.Repo.ListOccurrences(ctx, repo.OccurrenceFilters{AuthorisationID: a.ID})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"authorisation": a, "occurrences": occurrences})
				}
				if err := printJSONOrTable(a); err != nil {
					return err
				}
				printOccurrences(occurrences)
				return nil
			})
		},
	}
}

func authorisationListCmd() *cobra.Command {
	var f repo.AuthorisationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List authorisations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAuthorisations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Person", "Prison", "Reason", "Start", "End", "Status", "Version"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.PersonIdentifier, a.PrisonCode, a.Categorisation.AbsenceReason,
						a.Start.Format("2006-01-02 15:04"), a.End.Format("2006-01-02 15:04"), a.Status, a.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.PersonIdentifier, "person", "", "person filter")
	cmd.Flags().StringVar(&f.PrisonCode, "prison", "", "prison filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

type transitionFunc func(engine.Engine, context.Context, string, string, engine.Actor) (domain.Authorisation, error)

func authorisationTransitionCmd(use, short string, apply transitionFunc) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := apply(e, ctx, args[0], reason, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit trail")
	return cmd
}

func authorisationDateRangeCmd() *cobra.Command {
	var start, end, reason string
	cmd := &cobra.Command{
		Use:   "date-range <id>",
		Short: "Change the authorised date range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseTime("start", start)
			if err != nil {
				return err
			}
			to, err := parseTime("end", end)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.ChangeDateRange(ctx, args[0], from, to, reason, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "new start")
	cmd.Flags().StringVar(&end, "end", "", "new end")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}

func authorisationCategoriseCmd() *cobra.Command {
	var c domain.Categorisation
	var reason string
	cmd := &cobra.Command{
		Use:   "categorise <id>",
		Short: "Recategorise an authorisation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Recategorise(ctx, args[0], c, reason, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	addCategorisationFlags(cmd, &c)
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}

func authorisationDetailsCmd() *cobra.Command {
	var accompaniment, transport, comments, reason string
	cmd := &cobra.Command{
		Use:   "details <id>",
		Short: "Change accompaniment, transport or comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			details := engine.AuthorisationDetails{
				Accompaniment: optionalString(cmd, "accompaniment", accompaniment),
				Transport:     optionalString(cmd, "transport", transport),
				Comments:      optionalString(cmd, "comments", comments),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.UpdateAuthorisationDetails(ctx, args[0], details, reason, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&accompaniment, "accompaniment", "", "accompanied-by code")
	cmd.Flags().StringVar(&transport, "transport", "", "transport code")
	cmd.Flags().StringVar(&comments, "comments", "", "comments")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}

func authorisationGenerateCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "generate <id>",
		Short: "Materialise scheduled occurrences in a window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseTime("from", from)
			if err != nil {
				return err
			}
			end, err := parseTime("to", to)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.GenerateOccurrences(ctx, args[0], start, end, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				fmt.Printf("created %d occurrences\n", len(created))
				printOccurrences(created)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start")
	cmd.Flags().StringVar(&to, "to", "", "window end")
	return cmd
}

func printOccurrences(items []domain.Occurrence) {
	if len(items) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Occurrence", "Start", "End", "Location", "Status", "Version"})
	for _, o := range items {
		tw.AppendRow(table.Row{o.ID, o.Start.Format("2006-01-02 15:04"), o.End.Format("2006-01-02 15:04"), o.Location, o.Status, o.Version})
	}
	tw.Render()
}
