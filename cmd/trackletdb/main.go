// Command trackletdb manages the tracklet database.
//
//	trackletdb [-db path] migrate <action> [args]
//	trackletdb [-db path] runs
//	trackletdb [-db path] tracklets <run-id>
//	trackletdb [-db path] serve [-listen addr]
//
// serve exposes the /debug/ console (tailsql, run list, backups) and
// /metrics for the database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ctslater/mops-daymops/internal/config"
	"github.com/ctslater/mops-daymops/internal/db"
	"github.com/ctslater/mops-daymops/internal/monitoring"
	"github.com/ctslater/mops-daymops/internal/version"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "trackletdb: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: trackletdb [-db path] <command> [args]

Commands:
  migrate <action>     Manage the schema (see 'trackletdb migrate help')
  runs                 List recorded linking runs
  tracklets <run-id>   List the tracklets of one run
  serve                Serve the debug console and metrics
`)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	env, err := config.ParseEnv()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("trackletdb", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr) }
	dbPath := fs.String("db", env.DBPath, "tracklet database (default from MOPS_DB_PATH)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *showVersion {
		fmt.Fprintln(stdout, "trackletdb", version.String())
		return nil
	}
	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr)
		return errUsage
	}

	switch rest[0] {
	case "migrate":
		return db.RunMigrateCommand(rest[1:], *dbPath, stdout)
	case "runs":
		return listRuns(ctx, *dbPath, stdout)
	case "tracklets":
		if len(rest) < 2 {
			usage(stderr)
			return errUsage
		}
		return listTracklets(ctx, *dbPath, rest[1], stdout)
	case "serve":
		return serve(ctx, *dbPath, rest[1:], env, stderr)
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func listRuns(ctx context.Context, path string, w io.Writer) error {
	database, err := db.NewDB(path)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.Runs(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCREATED\tVERSION\tDETECTIONS\tCANDIDATES\tTRACKLETS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n", r.RunID, r.CreatedAt.Format(time.RFC3339),
			r.SoftwareVersion, r.DetectionCount, r.CandidateCount, r.TrackletCount)
	}
	return tw.Flush()
}

func listTracklets(ctx context.Context, path, runID string, w io.Writer) error {
	database, err := db.NewDB(path)
	if err != nil {
		return err
	}
	defer database.Close()

	if _, err := database.GetRun(ctx, runID); err != nil {
		return err
	}
	rows, err := database.Tracklets(ctx, runID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMJD\tRA\tDEC\tN\tRMS\tDETECTIONS")
	for _, t := range rows {
		ids, err := database.TrackletDetectionIDs(ctx, t.ID)
		if err != nil {
			return err
		}
		strs := make([]string, len(ids))
		for k, id := range ids {
			strs[k] = fmt.Sprint(id)
		}
		rms := "-"
		if t.RMS != nil {
			rms = fmt.Sprintf("%.3g", *t.RMS)
		}
		fmt.Fprintf(tw, "%d\t%.6f\t%.6f\t%.6f\t%d\t%s\t%s\n",
			t.ID, t.MJD, t.CenterRA, t.CenterDec, t.NDetections, rms, strings.Join(strs, ","))
	}
	return tw.Flush()
}

// newDBCollector exposes the number of stored runs as a gauge.
func newDBCollector(database *db.DB) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "mops",
		Name:      "linking_runs",
		Help:      "Linking runs stored in the tracklet database",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runs, err := database.Runs(ctx)
		if err != nil {
			return 0
		}
		return float64(len(runs))
	})
}

func newServeMux(database *db.DB) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(newDBCollector(database))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux, nil
}

func serve(ctx context.Context, path string, args []string, env *config.Env, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", "localhost:8080", "address to serve on")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	logger, err := monitoring.NewLogger(env.LogEnv, env.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	monitoring.UseZap(logger)

	database, err := db.NewDB(path)
	if err != nil {
		return err
	}
	defer database.Close()

	mux, err := newServeMux(database)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: *listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving tracklet db", zap.String("addr", *listen), zap.String("db", path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
