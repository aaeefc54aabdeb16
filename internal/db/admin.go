package db

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/ctslater/mops-daymops/internal/httputil"
	"github.com/ctslater/mops-daymops/internal/monitoring"
	"github.com/ctslater/mops-daymops/internal/security"
)

// AttachAdminRoutes mounts the /debug/ console on mux: a tailsql query page
// over the database, JSON views of linking runs and a gzipped backup
// download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Tracklet DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("runs", "Recorded linking runs", http.HandlerFunc(db.handleRuns))
	debug.HandleSilent("run", http.HandlerFunc(db.handleRun))
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
	return nil
}

func (db *DB) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	runs, err := db.Runs(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	httputil.WriteJSONOK(w, runs)
}

// runDetail is the /debug/run response: one run with its tracklets and
// their detection ids.
type runDetail struct {
	Run       Run
	Tracklets []trackletDetail
}

type trackletDetail struct {
	TrackletRow
	DetectionIDs []int64
}

// handleRun serves /debug/run?id=<run-id>.
func (db *DB) handleRun(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.BadRequest(w, "missing id parameter")
		return
	}
	run, err := db.GetRun(r.Context(), id)
	if errors.Is(err, ErrRunNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	rows, err := db.Tracklets(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := runDetail{Run: run, Tracklets: make([]trackletDetail, len(rows))}
	for k, row := range rows {
		ids, err := db.TrackletDetectionIDs(r.Context(), row.ID)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		out.Tracklets[k] = trackletDetail{TrackletRow: row, DetectionIDs: ids}
	}
	httputil.WriteJSONOK(w, out)
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("backup-%s-%d.db", security.SanitizeFilename(filepath.Base(db.path)), time.Now().Unix())
	backupPath := filepath.Join(os.TempDir(), name)
	if err := security.ValidatePathWithinDirectory(backupPath, os.TempDir()); err != nil {
		http.Error(w, fmt.Sprintf("Invalid backup path: %v", err), http.StatusInternalServerError)
		return
	}
	if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("admin: remove backup %s: %v", backupPath, err)
		}
	}()

	f, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	if _, err := io.Copy(gz, f); err != nil {
		monitoring.Logf("admin: stream backup: %v", err)
		return
	}
	if err := gz.Close(); err != nil {
		monitoring.Logf("admin: finish backup: %v", err)
	}
}
