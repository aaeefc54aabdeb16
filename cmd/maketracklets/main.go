// Command maketracklets links one night of DIA sources into tracklets.
//
// Usage:
//
//	maketracklets [flags] diasources.txt[.gz|.zst|.lz4] ...
//
// It finds pairwise candidates, collapses them, applies any configured
// post-filters and writes one tracklet per line as detection indices.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/ctslater/mops-daymops/internal/config"
	"github.com/ctslater/mops-daymops/internal/db"
	"github.com/ctslater/mops-daymops/internal/detection"
	"github.com/ctslater/mops-daymops/internal/metrics"
	"github.com/ctslater/mops-daymops/internal/monitoring"
	"github.com/ctslater/mops-daymops/internal/pipeline"
	"github.com/ctslater/mops-daymops/internal/plot"
	"github.com/ctslater/mops-daymops/internal/security"
	"github.com/ctslater/mops-daymops/internal/timeutil"
	"github.com/ctslater/mops-daymops/internal/tracklet"
	"github.com/ctslater/mops-daymops/internal/version"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Environ()); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "maketracklets: %v\n", err)
		}
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	outDir      string
	out         string
	detail      string
	png         string
	html        string
	metricsFile string
	persist     bool
	dbPath      string
	verbose     bool
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	var o options
	fs := flag.NewFlagSet("maketracklets", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "linking config (.json, .yaml or .yml)")
	fs.StringVar(&o.outDir, "out-dir", ".", "directory all outputs are written under")
	fs.StringVar(&o.out, "out", "tracklets.txt", "tracklet index output file")
	fs.StringVar(&o.detail, "detail", "", "optional visit,ra,dec,snr detail output file")
	fs.StringVar(&o.png, "png", "", "optional sky plot (PNG)")
	fs.StringVar(&o.html, "html", "", "optional interactive sky plot (HTML)")
	fs.StringVar(&o.metricsFile, "metrics-file", "", "write Prometheus textfile metrics here (overrides MOPS_METRICS_FILE)")
	fs.BoolVar(&o.persist, "persist", false, "store the run in the tracklet database")
	fs.StringVar(&o.dbPath, "db", "", "tracklet database (overrides MOPS_DB_PATH)")
	fs.BoolVar(&o.verbose, "verbose", false, "log collapse diagnostics")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: maketracklets [flags] diasource-file ...\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, errUsage
	}
	return &o, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, environ []string) error {
	o, inputs, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintln(stdout, "maketracklets", version.String())
		return nil
	}
	if len(inputs) == 0 {
		fmt.Fprintln(stderr, "maketracklets: at least one DIA source file is required")
		return errUsage
	}

	env, err := config.ParseEnvFrom(envMap(environ))
	if err != nil {
		return err
	}
	logger, err := monitoring.NewLogger(env.LogEnv, env.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	monitoring.UseZap(logger)

	cfg := config.EmptyLinkingConfig()
	if o.configPath != "" {
		if cfg, err = config.LoadLinkingConfig(o.configPath); err != nil {
			return err
		}
	}
	env.ApplyTo(cfg)
	if o.verbose {
		cfg.Verbose = &o.verbose
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	paths, err := outputPaths(o)
	if err != nil {
		return err
	}

	store, err := detection.LoadFiles(inputs...)
	if err != nil {
		return err
	}
	logger.Info("loaded detections", zap.Int("detections", store.Len()), zap.Strings("files", inputs))

	m := metrics.NewLinking()
	runner := &pipeline.Runner{Config: cfg, Clock: timeutil.RealClock{}, Metrics: m}
	if o.persist {
		dbPath := env.DBPath
		if o.dbPath != "" {
			dbPath = o.dbPath
		}
		database, err := db.NewDB(dbPath)
		if err != nil {
			return fmt.Errorf("open tracklet db: %w", err)
		}
		defer database.Close()
		runner.Sink = database
	}

	res, err := runner.Run(ctx, store)
	if err != nil {
		return err
	}

	if err := writeFile(paths.out, func(w io.Writer) error { return tracklet.WriteIndices(w, res.Tracklets) }); err != nil {
		return err
	}
	if paths.detail != "" {
		if err := writeFile(paths.detail, func(w io.Writer) error { return tracklet.WriteDetail(w, store, res.Tracklets) }); err != nil {
			return err
		}
	}
	title := fmt.Sprintf("run %s", res.RunID)
	if paths.png != "" {
		if err := plot.SaveSkyPNG(paths.png, store, res.Tracklets, title); err != nil {
			return fmt.Errorf("png: %w", err)
		}
	}
	if paths.html != "" {
		if err := writeFile(paths.html, func(w io.Writer) error { return plot.WriteSkyHTML(w, store, res.Tracklets, title) }); err != nil {
			return err
		}
	}

	metricsFile := env.MetricsFile
	if o.metricsFile != "" {
		metricsFile = o.metricsFile
	}
	if metricsFile != "" {
		if err := m.WriteTextfile(metricsFile); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	fields := []zap.Field{
		zap.String("run_id", res.RunID),
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("tracklets", len(res.Tracklets)),
		zap.String("out", paths.out),
	}
	for _, l := range res.Laps {
		fields = append(fields, zap.Duration(l.Name, l.Duration))
	}
	logger.Info("linking run complete", fields...)
	return nil
}

type outputs struct {
	out, detail, png, html string
}

// outputPaths resolves every requested output under -out-dir and rejects
// any that would escape it.
func outputPaths(o *options) (outputs, error) {
	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		return outputs{}, fmt.Errorf("create out dir: %w", err)
	}
	resolve := func(name string) (string, error) {
		if name == "" {
			return "", nil
		}
		p := filepath.Join(o.outDir, name)
		if err := security.ValidatePathWithinDirectory(p, o.outDir); err != nil {
			return "", err
		}
		return p, nil
	}
	var res outputs
	var err error
	if o.out == "" {
		return outputs{}, fmt.Errorf("-out must not be empty")
	}
	for _, f := range []struct {
		dst  *string
		name string
	}{
		{&res.out, o.out},
		{&res.detail, o.detail},
		{&res.png, o.png},
		{&res.html, o.html},
	} {
		if *f.dst, err = resolve(f.name); err != nil {
			return outputs{}, err
		}
	}
	return res, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
