package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"calview/internal/ics"
	"calview/internal/layout"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/view"
)

var (
	layoutDate string
	layoutMode string
	exportOut  string
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Fetch once and print the laid-out view as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := prepareOnce(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Snapshot view.Snapshot      `json:"snapshot"`
			Days     []layout.DayLayout `json:"days"`
		}{a.ctl.Snapshot(), a.ctl.LayoutRange()})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Fetch once and write the visible events as an iCalendar file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := prepareOnce(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		body := ics.Export(a.ctl.Events(), time.Now())
		if exportOut == "" || exportOut == "-" {
			_, err := fmt.Fprint(cmd.OutOrStdout(), body)
			return err
		}
		if err := os.WriteFile(exportOut, []byte(body), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", exportOut, err)
		}
		appLog.Info("exported events", "path", exportOut, "events", len(a.ctl.Events()))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{layoutCmd, exportCmd} {
		c.Flags().StringVarP(&layoutDate, "date", "d", "", "Selected date (YYYY-MM-DD); defaults to today")
		c.Flags().StringVarP(&layoutMode, "mode", "m", "", "View mode: day, week, month or all")
	}
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file; stdout when empty")
}

// prepareOnce builds the app, applies --mode/--date and refreshes. Per-source
// failures are logged; whatever loaded is still printed.
func prepareOnce(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()

	if layoutMode != "" {
		mode, err := model.ParseViewMode(layoutMode)
		if err != nil {
			a.Close()
			return nil, err
		}
		if _, err := a.ctl.SetViewMode(ctx, mode); err != nil {
			appLog.Warn("refresh incomplete", "err", err.Error())
		}
	}
	if layoutDate != "" {
		day, err := time.ParseInLocation(time.DateOnly, layoutDate, a.loc)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
		}
		if _, err := a.ctl.SetSelectedDate(ctx, day); err != nil {
			appLog.Warn("refresh incomplete", "err", err.Error())
		}
	}
	if _, err := a.ctl.Refresh(ctx, false); err != nil {
		appLog.Warn("refresh incomplete", "err", err.Error())
	}
	return a, nil
}
