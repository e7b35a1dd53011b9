package main

import (
	"context"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tapline/internal/domain"
	"tapline/internal/engine"
)

func occurrenceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "occurrence", Aliases: []string{"occ"}, Short: "Manage scheduled absences"}
	cmd.AddCommand(occurrenceCreateCmd())
	cmd.AddCommand(occurrenceShowCmd())
	cmd.AddCommand(occurrenceCancelCmd())
	cmd.AddCommand(occurrenceRescheduleCmd())
	cmd.AddCommand(occurrenceDetailsCmd())
	return cmd
}

func occurrenceCreateCmd() *cobra.Command {
	var opts engine.OccurrenceCreateOptions
	var start, end string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add an occurrence to an authorisation",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.Start, err = parseTime("start", start); err != nil {
				return err
			}
			if opts.End, err = parseTime("end", end); err != nil {
				return err
			}
			opts.Actor = actor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateOccurrence(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.AuthorisationID, "authorisation", "", "authorisation id")
	f.StringVar(&start, "start", "", "start time")
	f.StringVar(&end, "end", "", "end time")
	f.StringVar(&opts.Location, "location", "", "location")
	f.StringVar(&opts.Accompaniment, "accompaniment", "", "accompanied-by code (defaults to the authorisation's)")
	f.StringVar(&opts.Transport, "transport", "", "transport code (defaults to the authorisation's)")
	f.StringVar(&opts.Comments, "comments", "", "comments")
	_ = cmd.MarkFlagRequired("authorisation")
	return cmd
}

func occurrenceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an occurrence with its movements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Repo.GetOccurrence(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(o)
				}
				printOccurrences([]domain.Occurrence{o})
				printMovements(o.Movements)
				return nil
			})
		},
	}
}

func occurrenceCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an occurrence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CancelOccurrence(ctx, args[0], reason, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}

func occurrenceRescheduleCmd() *cobra.Command {
	var start, end, reason string
	cmd := &cobra.Command{
		Use:   "reschedule <id>",
		Short: "Move an occurrence to a new window",
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
				o, err := e.RescheduleOccurrence(ctx, args[0], from, to, reason, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "new start")
	cmd.Flags().StringVar(&end, "end", "", "new end")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}

func occurrenceDetailsCmd() *cobra.Command {
	var location, accompaniment, transport, comments, reason string
	cmd := &cobra.Command{
		Use:   "details <id>",
		Short: "Change location, accompaniment, transport or comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			details := engine.OccurrenceDetails{
				Location:      optionalString(cmd, "location", location),
				Accompaniment: optionalString(cmd, "accompaniment", accompaniment),
				Transport:     optionalString(cmd, "transport", transport),
				Comments:      optionalString(cmd, "comments", comments),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.UpdateOccurrenceDetails(ctx, args[0], details, reason, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "location")
	cmd.Flags().StringVar(&accompaniment, "accompaniment", "", "accompanied-by code")
	cmd.Flags().StringVar(&transport, "transport", "", "transport code")
	cmd.Flags().StringVar(&comments, "comments", "", "comments")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}

func movementCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "movement", Short: "Record departures and returns"}
	cmd.AddCommand(movementRecordCmd())
	cmd.AddCommand(movementCorrectCmd())
	cmd.AddCommand(movementListCmd())
	return cmd
}

func movementRecordCmd() *cobra.Command {
	var opts engine.MovementOptions
	var direction, at string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a movement OUT or IN",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.OccurredAt, err = parseTime("at", at); err != nil {
				return err
			}
			opts.Direction = domain.Direction(strings.ToUpper(direction))
			opts.Actor = actor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.RecordMovement(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.OccurrenceID, "occurrence", "", "occurrence id (omit for unscheduled movements)")
	f.StringVar(&opts.PersonIdentifier, "person", "", "person identifier (taken from the occurrence when set)")
	f.StringVar(&direction, "direction", "", "OUT or IN")
	f.StringVar(&at, "at", "", "when the movement happened")
	f.StringVar(&opts.PrisonCode, "prison", "", "prison code")
	f.StringVar(&opts.AbsenceReason, "absence-reason", "", "absence reason code")
	f.StringVar(&opts.Accompaniment, "accompaniment", "", "accompanied-by code")
	f.StringVar(&opts.Location, "location", "", "location")
	_ = cmd.MarkFlagRequired("direction")
	_ = cmd.MarkFlagRequired("prison")
	return cmd
}

func movementCorrectCmd() *cobra.Command {
	var location, absenceReason, reason string
	cmd := &cobra.Command{
		Use:   "correct <id>",
		Short: "Correct the location or reason of a movement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.CorrectMovement(ctx, args[0], location, absenceReason, reason, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "corrected location")
	cmd.Flags().StringVar(&absenceReason, "absence-reason", "", "corrected absence reason code")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}

func movementListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <person>",
		Short: "List a person's movements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListMovementsForPerson(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printMovements(items)
				return nil
			})
		},
	}
}

func printMovements(items []domain.Movement) {
	if len(items) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Movement", "Direction", "At", "Reason", "Location", "Occurrence"})
	for _, m := range items {
		tw.AppendRow(table.Row{m.ID, m.Direction, m.OccurredAt.Format("2006-01-02 15:04"), m.AbsenceReason, m.Location, m.OccurrenceID})
	}
	tw.Render()
}
