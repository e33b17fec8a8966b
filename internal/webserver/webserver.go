// Package webserver implements the diagnostics server.
package webserver

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/desertwitch/sfs/internal/filesystem"
	"github.com/desertwitch/sfs/internal/logging"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
)

var (
	//go:embed templates/*.html
	templateFS    embed.FS
	indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

	// errInvalidArgument is for an invalid constructor argument.
	errInvalidArgument = errors.New("invalid argument")
)

// FSDashboard is the implementation of the filesystem dashboard.
type FSDashboard struct {
	version string
	fsys    *filesystem.FS
	rbuf    *logging.RingBuffer
}

// NewFSDashboard returns a pointer to a new [FSDashboard].
func NewFSDashboard(fsys *filesystem.FS, rbuf *logging.RingBuffer, version string) (*FSDashboard, error) {
	if fsys == nil {
		return nil, fmt.Errorf("%w: need filesystem", errInvalidArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need ring buffer", errInvalidArgument)
	}

	return &FSDashboard{
		version: version,
		fsys:    fsys,
		rbuf:    rbuf,
	}, nil
}

// Serve serves the diagnostics dashboard as part of a [http.Server].
func (d *FSDashboard) Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: d.dashboardMux()}

	go func() {
		defer func() {
			r := recover()
			if r != nil {
				fmt.Fprintf(os.Stderr, "(webserver) PANIC: %v\n", r)
				debug.PrintStack()
			}
		}()
		d.rbuf.Printf("serving dashboard on %s", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.rbuf.Printf("HTTP error: %v", err)
		}
	}()

	return srv
}

func (d *FSDashboard) dashboardMux() *mux.Router {
	mux := mux.NewRouter()

	mux.HandleFunc("/", d.dashboardHandler)
	mux.HandleFunc("/metrics.json", d.metricsHandler)
	mux.HandleFunc("/gc", d.gcHandler)
	mux.HandleFunc("/reset", d.resetMetricsHandler)
	mux.HandleFunc("/snapshot.zip", d.snapshotHandler)

	mux.HandleFunc("/set/read-only/{value}",
		d.booleanHandler("Read-only mode", d.fsys.ReadOnly()))
	mux.HandleFunc("/set/debug/{value}",
		d.booleanHandler("Debug logging", d.rbuf.Debug()))

	return mux
}

type fsDashboardData struct {
	AllocBytes      string   `json:"allocBytes"`
	AvgReadSize     string   `json:"avgReadSize"`
	AvgWriteSize    string   `json:"avgWriteSize"`
	ContentUsage    string   `json:"contentUsage"`
	DebugLogging    string   `json:"debugLogging"`
	LiveInodes      int64    `json:"liveInodes"`
	Logs            []string `json:"logs"`
	NumGC           uint32   `json:"numGc"`
	OpenHandles     int      `json:"openHandles"`
	ReadOnly        string   `json:"readOnly"`
	RingBufferSize  int      `json:"ringBufferSize"`
	SysBytes        string   `json:"sysBytes"`
	TotalCreates    int64    `json:"totalCreates"`
	TotalErrors     int64    `json:"totalErrors"`
	TotalGetattrs   int64    `json:"totalGetattrs"`
	TotalLookups    int64    `json:"totalLookups"`
	TotalMkdirs     int64    `json:"totalMkdirs"`
	TotalOpens      int64    `json:"totalOpens"`
	TotalReadBytes  string   `json:"totalReadBytes"`
	TotalReaddirs   int64    `json:"totalReaddirs"`
	TotalReads      int64    `json:"totalReads"`
	TotalReleases   int64    `json:"totalReleases"`
	TotalRemoves    int64    `json:"totalRemoves"`
	TotalRenames    int64    `json:"totalRenames"`
	TotalSetattrs   int64    `json:"totalSetattrs"`
	TotalSymlinks   int64    `json:"totalSymlinks"`
	TotalWriteBytes string   `json:"totalWriteBytes"`
	TotalWrites     int64    `json:"totalWrites"`
	Uptime          string   `json:"uptime"`
	Version         string   `json:"version"`
}

func (d *FSDashboard) collectMetrics() fsDashboardData {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	lines := d.rbuf.Lines()
	slices.Reverse(lines)

	metrics := d.fsys.Metrics
	session := d.fsys.Session

	return fsDashboardData{
		AllocBytes:      humanize.IBytes(m.Alloc),
		AvgReadSize:     avgSize(metrics.TotalReadBytes.Load(), metrics.TotalReads.Load()),
		AvgWriteSize:    avgSize(metrics.TotalWriteBytes.Load(), metrics.TotalWrites.Load()),
		ContentUsage:    humanize.IBytes(session.Store().Usage()),
		DebugLogging:    enabledOrDisabled(d.rbuf.Debug().Load()),
		LiveInodes:      session.Inodes.Live(),
		Logs:            lines,
		NumGC:           m.NumGC,
		OpenHandles:     session.Handles.Len(),
		ReadOnly:        enabledOrDisabled(d.fsys.ReadOnly().Load()),
		RingBufferSize:  d.rbuf.Size(),
		SysBytes:        humanize.IBytes(m.Sys),
		TotalCreates:    metrics.TotalCreates.Load(),
		TotalErrors:     metrics.TotalErrors.Load(),
		TotalGetattrs:   metrics.TotalGetattrs.Load(),
		TotalLookups:    metrics.TotalLookups.Load(),
		TotalMkdirs:     metrics.TotalMkdirs.Load(),
		TotalOpens:      metrics.TotalOpens.Load(),
		TotalReadBytes:  totalBytes(metrics.TotalReadBytes.Load()),
		TotalReaddirs:   metrics.TotalReaddirs.Load(),
		TotalReads:      metrics.TotalReads.Load(),
		TotalReleases:   metrics.TotalReleases.Load(),
		TotalRemoves:    metrics.TotalRemoves.Load(),
		TotalRenames:    metrics.TotalRenames.Load(),
		TotalSetattrs:   metrics.TotalSetattrs.Load(),
		TotalSymlinks:   metrics.TotalSymlinks.Load(),
		TotalWriteBytes: totalBytes(metrics.TotalWriteBytes.Load()),
		TotalWrites:     metrics.TotalWrites.Load(),
		Uptime:          humanize.Time(d.fsys.MountTime),
		Version:         d.version,
	}
}

func (d *FSDashboard) dashboardHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	if err := indexTemplate.Execute(w, data); err != nil {
		d.rbuf.Printf("HTTP template execution error: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *FSDashboard) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *FSDashboard) snapshotHandler(w http.ResponseWriter, _ *http.Request) {
	name := fmt.Sprintf("sfs-snapshot-%s.zip", time.Now().Format("20060102-150405"))

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	if err := d.fsys.Session.WriteArchive(w); err != nil {
		// Headers are out; all that is left is logging the fault.
		d.rbuf.Printf("snapshot export error: %v", err)

		return
	}

	d.rbuf.Printf("snapshot exported via API: %s", name)
}

func (d *FSDashboard) gcHandler(w http.ResponseWriter, _ *http.Request) {
	runtime.GC()
	debug.FreeOSMemory()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	d.rbuf.Printf("GC forced via API, current heap: %s.", humanize.IBytes(m.Alloc))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "GC forced, current heap: %s.\n", humanize.IBytes(m.Alloc))
}

func (d *FSDashboard) resetMetricsHandler(w http.ResponseWriter, _ *http.Request) {
	metrics := d.fsys.Metrics

	metrics.TotalCreates.Store(0)
	metrics.TotalErrors.Store(0)
	metrics.TotalGetattrs.Store(0)
	metrics.TotalLookups.Store(0)
	metrics.TotalMkdirs.Store(0)
	metrics.TotalOpens.Store(0)
	metrics.TotalReadBytes.Store(0)
	metrics.TotalReaddirs.Store(0)
	metrics.TotalReads.Store(0)
	metrics.TotalReleases.Store(0)
	metrics.TotalRemoves.Store(0)
	metrics.TotalRenames.Store(0)
	metrics.TotalSetattrs.Store(0)
	metrics.TotalSymlinks.Store(0)
	metrics.TotalWriteBytes.Store(0)
	metrics.TotalWrites.Store(0)

	d.rbuf.Println("Metrics reset via API.")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Metrics reset.")
}

func (d *FSDashboard) booleanHandler(desc string, target *atomic.Bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		val, err := strconv.ParseBool(vars["value"])
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid boolean value: %v", err), http.StatusBadRequest)

			return
		}
		target.Store(val)

		d.rbuf.Printf("%s set via API: %t.", desc, val)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s set: %t.\n", desc, val)
	}
}
