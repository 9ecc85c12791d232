package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"clinicsched/backend/internal/domain"
	"clinicsched/backend/internal/export/ical"
	"clinicsched/backend/internal/service/booking"
)

type previewFlags struct {
	anchor  string
	at      string
	pattern string
	count   int
	until   string
	limit   int
	tz      string
}

func (f previewFlags) rule() (domain.RecurrenceRule, error) {
	rule := domain.RecurrenceRule{Pattern: domain.Pattern(f.pattern)}
	if rule.Single() {
		return rule, nil
	}
	switch {
	case f.count > 0 && f.until != "":
		return domain.RecurrenceRule{}, fmt.Errorf("--count and --until are mutually exclusive")
	case f.count > 0:
		rule.End = domain.AfterCount(f.count)
	case f.until != "":
		until, err := domain.ParseDate(f.until)
		if err != nil {
			return domain.RecurrenceRule{}, fmt.Errorf("--until: %w", err)
		}
		rule.End = domain.OnDate(until)
	default:
		rule.End = domain.Indefinite()
	}
	return rule, nil
}

// previewCmd prints the dates a rule books for one slot without touching a store.
func previewCmd() *cobra.Command {
	var f previewFlags

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the session dates a recurrence rule produces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVar(&f.anchor, "anchor", "", "First session date, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.at, "time", "09:00", "Session start, HH:MM")
	cmd.Flags().StringVar(&f.pattern, "pattern", string(domain.PatternWeekly), "weekly, biweekly, monthly or single")
	cmd.Flags().IntVar(&f.count, "count", 0, "End after this many sessions")
	cmd.Flags().StringVar(&f.until, "until", "", "End on this date, YYYY-MM-DD")
	cmd.Flags().IntVar(&f.limit, "limit", booking.DefaultPreviewLimit, "Dates to print")
	cmd.Flags().StringVar(&f.tz, "tz", "UTC", "Clinic time zone for the RRULE")
	_ = cmd.MarkFlagRequired("anchor")

	return cmd
}

func runPreview(w io.Writer, f previewFlags) error {
	anchor, err := domain.ParseDate(f.anchor)
	if err != nil {
		return fmt.Errorf("--anchor: %w", err)
	}
	at, err := domain.ParseTimeOfDay(f.at)
	if err != nil {
		return fmt.Errorf("--time: %w", err)
	}
	loc, err := time.LoadLocation(f.tz)
	if err != nil {
		return fmt.Errorf("--tz: %w", err)
	}
	rule, err := f.rule()
	if err != nil {
		return err
	}

	sel := domain.NewSelectionSet()
	sel.Toggle("preview", domain.CandidateSlot{TrackID: "preview", Date: anchor, Time: at, TherapistID: "preview"})

	committer := booking.NewCommitter(nil, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)), booking.Config{})
	items, err := committer.Preview(sel, &rule, f.limit)
	if err != nil {
		return err
	}
	item := items[0]

	if rrule, ok := ical.RRule(rule, anchor.In(at, loc)); ok {
		fmt.Fprintf(w, "RRULE:%s\n", rrule)
	}
	for i, d := range item.Dates {
		fmt.Fprintf(w, "%3d  %s  %s\n", i+1, d, d.Weekday())
	}
	switch {
	case item.Total < 0:
		fmt.Fprintln(w, "open-ended")
	case item.Total > len(item.Dates):
		fmt.Fprintf(w, "... %d more (%d total)\n", item.Total-len(item.Dates), item.Total)
	}
	return nil
}
