package commands

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"stravacrawl/cmd/stravacrawl/db"
	"stravacrawl/lib/configutil"
	"stravacrawl/lib/osutil"
	"stravacrawl/lib/restyutil"
	"stravacrawl/lib/scrapers/strava"
	"stravacrawl/lib/sqliteutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

type Config struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

var (
	crawlClub   *int64
	crawlDate   *string
	crawlOut    *string
	crawlDb     *string
	crawlFormat *string
	crawlDebug  *bool
)

func init() {
	crawlClub = crawlCmd.Flags().Int64("club", 0, "The numeric id of the club whose feed to crawl.")
	crawlDate = crawlCmd.Flags().String("date", "", "Only keep activities on this day (YYYY-MM-DD).")
	crawlOut = crawlCmd.Flags().String("out", "results.txt", "The file to append the text report to.")
	crawlDb = crawlCmd.Flags().String("db", "", "If set, also write the results to this sqlite database.")
	crawlFormat = crawlCmd.Flags().String("format", "text", "Report format: text or table.")
	crawlDebug = crawlCmd.Flags().Bool("debug", false, "Dump every HTTP exchange to .dev/resty/crawl.")
	crawlCmd.MarkFlagRequired("club")
	rootCmd.AddCommand(crawlCmd)
}

func createClient(ctx context.Context, cfg Config, debug bool) *strava.Client {
	opts := strava.ClientOptions{
		Email:    cfg.Email,
		Password: cfg.Password,
	}
	if debug {
		opts.DebugOutput = restyutil.NewFilesystemOutput(".dev/resty/crawl")
	}

	client, err := strava.NewClient(ctx, opts)
	if err != nil {
		osutil.Fatal("failed to initialize client", err)
	}
	err = client.Login(ctx)
	if err != nil {
		osutil.Fatal("failed to login", err)
	}
	return client
}

var crawlCmd = &cobra.Command{
	Use:   "crawl --club <id> [--date YYYY-MM-DD] [--out <report.txt>] [--db <results.db>] [--format text|table]",
	Short: "Crawls a club's activity feed and writes the extracted records.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			osutil.Fatal("failed to read config", err)
		}

		var filter *strava.DateFilter
		if *crawlDate != "" {
			day, err := time.ParseInLocation("2006-01-02", *crawlDate, time.Local)
			if err != nil {
				osutil.Fatal("failed to parse --date", err)
			}
			filter = strava.OnDay(day)
		}

		slog.Info("crawling using user", "email", cfg.Email, "club", *crawlClub)
		client := createClient(cmd.Context(), cfg, *crawlDebug)
		defer client.Close()

		t1 := time.Now()
		results, err := client.ClubActivities(cmd.Context(), *crawlClub, filter)
		if err != nil {
			osutil.Fatal("crawl failed", err)
		}
		t2 := time.Now()

		slog.Info("crawl finished", "activities", len(results), "seconds", t2.Sub(t1).Seconds())

		if *crawlDb != "" {
			out, err := sqliteutil.OpenDB(db.Schema, *crawlDb)
			if err != nil {
				osutil.Fatal("failed to open db", err)
			}
			defer out.Close()

			err = writeActivitiesToDb(out, results)
			if err != nil {
				osutil.Fatal("failed to write results to db", err)
			}
		}

		switch *crawlFormat {
		case "table":
			renderActivityTable(os.Stdout, results)
		default:
			file, err := os.OpenFile(*crawlOut, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				osutil.Fatal("failed to open report file", err)
			}
			defer file.Close()

			err = writeActivityReport(file, results)
			if err != nil {
				osutil.Fatal("failed to write report", err)
			}
			slog.Info("wrote report", "file", *crawlOut)
		}
	},
}

func writeActivityReport(w io.Writer, results []strava.Activity) error {
	for _, a := range results {
		_, err := fmt.Fprintf(
			w,
			"routable: %t\ntitle: %s\nhref: %s\nnickname: %s\ntype: %s\ndate: %s\n",
			a.Info.Routable,
			a.Info.Title,
			a.Info.Href,
			a.Info.Nickname,
			a.Info.Type,
			a.Info.Date.Format("2006-01-02"),
		)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(
			w,
			"     distance: %g\n     moving_time: %d\n     pace: %d\n     elevation_gain: %d\n     calories: %d\n     device: %s\n     gear: %s (%s)\n\n",
			a.Metrics.Distance,
			a.Metrics.MovingTime,
			a.Metrics.Pace,
			a.Metrics.ElevationGain,
			a.Metrics.Calories,
			a.Metrics.Device,
			a.Metrics.Gear.Name,
			a.Metrics.Gear.Mileage,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func renderActivityTable(w io.Writer, results []strava.Activity) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{
		"Nickname", "Title", "Type", "Date",
		"Distance (km)", "Moving Time (s)", "Pace (s/km)",
		"Elevation (m)", "Calories", "Device", "Gear",
	})

	for _, a := range results {
		t.AppendRow(table.Row{
			a.Info.Nickname,
			a.Info.Title,
			a.Info.Type,
			a.Info.Date.Format("2006-01-02"),
			a.Metrics.Distance,
			a.Metrics.MovingTime,
			a.Metrics.Pace,
			a.Metrics.ElevationGain,
			a.Metrics.Calories,
			a.Metrics.Device,
			fmt.Sprintf("%s (%s)", a.Metrics.Gear.Name, a.Metrics.Gear.Mileage),
		})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
}

func writeActivitiesToDb(out *sql.DB, results []strava.Activity) error {
	tx, err := out.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
insert or replace into activity (
    href, title, nickname, type, date, routable,
    distance_km, moving_time_s, pace_s_per_km,
    elevation_gain_m, calories, device, gear_name, gear_mileage
) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range results {
		_, err = stmt.Exec(
			a.Info.Href,
			a.Info.Title,
			a.Info.Nickname,
			a.Info.Type,
			a.Info.Date.Format("2006-01-02"),
			a.Info.Routable,
			a.Metrics.Distance,
			a.Metrics.MovingTime,
			a.Metrics.Pace,
			a.Metrics.ElevationGain,
			a.Metrics.Calories,
			a.Metrics.Device,
			a.Metrics.Gear.Name,
			a.Metrics.Gear.Mileage,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
