// Command removesubsets prunes a tracklet index file: tracklets contained
// in another tracklet are dropped and, optionally, only the longest
// tracklets through each detection are kept.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/ctslater/mops-daymops/internal/monitoring"
	"github.com/ctslater/mops-daymops/internal/postfilter"
	"github.com/ctslater/mops-daymops/internal/tracklet"
	"github.com/ctslater/mops-daymops/internal/version"
)

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "removesubsets: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("removesubsets", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "-", "input tracklet file, - for stdin")
	out := fs.String("out", "-", "output tracklet file, - for stdout")
	removeSubsets := fs.Bool("remove-subsets", true, "drop tracklets contained in another tracklet")
	keepLongest := fs.Bool("keep-longest", false, "keep only the longest tracklets through each detection")
	logEnv := fs.String("log-env", "production", "logger environment (production or development)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *showVersion {
		fmt.Fprintln(stdout, "removesubsets", version.String())
		return nil
	}

	logger, err := monitoring.NewLogger(*logEnv, "")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	r := stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	s, err := tracklet.ReadIndices(r)
	if err != nil {
		return fmt.Errorf("read %s: %w", *in, err)
	}

	n := len(s)
	if *keepLongest {
		s = postfilter.KeepLongestPerDetection(s)
	}
	if *removeSubsets {
		s = postfilter.RemoveSubsets(s)
	}
	if !*keepLongest && !*removeSubsets {
		s = s.Sorted()
	}

	w := stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := tracklet.WriteIndices(w, s); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	logger.Info("pruned tracklets", zap.Int("in", n), zap.Int("out", len(s)),
		zap.Bool("keep_longest", *keepLongest), zap.Bool("remove_subsets", *removeSubsets))
	return nil
}
