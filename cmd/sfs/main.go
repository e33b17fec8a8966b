/*
sfs is a FUSE filesystem that keeps its entire namespace in memory and
serves it as a regular POSIX directory tree. File content lives either
in RAM or as flat per-inode object files inside a backing directory on
the host. It includes a HTTP dashboard for basic filesystem metrics and
controlling operations and runtime behavior.

The following signals are observed and handled by the filesystem:
  - SIGTERM or SIGINT (CTRL+C) gracefully unmounts the filesystem
  - SIGUSR1 forces a garbage collection (within Go)
  - SIGUSR2 dumps a diagnostic stacktrace to standard error (stderr)

When enabled, the diagnostics server exposes the following routes over HTTP:
  - "/" for filesystem dashboard and event ring-buffer
  - "/metrics.json" for the dashboard metrics as JSON
  - "/gc" for forcing of a garbage collection (within Go)
  - "/reset" for resetting the FS metrics at runtime
  - "/snapshot.zip" for a ZIP export of the live namespace
  - "/set/read-only/<bool>" for toggling read-only mode
  - "/set/debug/<bool>" for toggling debug verbosity
*/
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/sfs/internal/config"
	"github.com/desertwitch/sfs/internal/core"
	"github.com/desertwitch/sfs/internal/filesystem"
	"github.com/desertwitch/sfs/internal/logging"
	"github.com/desertwitch/sfs/internal/webserver"
	"github.com/spf13/cobra"
)

const (
	stackTraceBuffer = 1 << 24
)

// Version is the program version (filled in from the Makefile).
var Version string

func rootCmd() *cobra.Command {
	var argConfigFile string
	var argBacking string
	var argWebAddr string
	var argFSName string
	var argAllowOther bool
	var argDebug bool
	var argRingSize int

	cmd := &cobra.Command{
		Use:   "sfs <mountpoint>",
		Short: "a FUSE filesystem serving an in-memory directory tree",
		Long: `sfs is a FUSE filesystem that keeps its entire namespace in memory and
serves it as a regular POSIX directory tree. File content lives either in
RAM or as flat per-inode object files inside a host backing directory.

When mounted, the following OS signals are observed at runtime:
- SIGTERM/SIGINT for gracefully unmounting the FS
- SIGUSR1 for forcing a garbage collection run within Go
- SIGUSR2 for printing a stack trace to standard error (stderr)

When enabled, the diagnostics dashboard exposes the following routes:
- "/" for filesystem dashboard and event ring-buffer
- "/metrics.json" for the dashboard metrics as JSON
- "/gc" for forcing of a garbage collection (within Go)
- "/reset" for resetting the FS metrics at runtime
- "/snapshot.zip" for a ZIP export of the live namespace
- "/set/read-only/<bool>" for toggling read-only mode
- "/set/debug/<bool>" for toggling debug verbosity`,
		Version: Version,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(argConfigFile)
			if err != nil {
				return err
			}

			// Flags win over file and environment values.
			if cmd.Flags().Changed("backing") {
				cfg.Backing = argBacking
			}
			if cmd.Flags().Changed("webaddr") {
				cfg.WebAddr = argWebAddr
			}
			if cmd.Flags().Changed("fsname") {
				cfg.FSName = argFSName
			}
			if cmd.Flags().Changed("allow-other") {
				cfg.AllowOther = argAllowOther
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = argDebug
			}
			if cmd.Flags().Changed("ring-buffer-size") {
				cfg.RingBufferSize = argRingSize
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cfg, args[0])
		},
	}
	cmd.Flags().StringVarP(&argConfigFile, "config", "c", "", "Path to a configuration file (YAML)")
	cmd.Flags().StringVarP(&argBacking, "backing", "b", "", "Host directory for file content (kept in RAM when empty)")
	cmd.Flags().StringVarP(&argWebAddr, "webaddr", "w", "", "Address to serve the diagnostics dashboard on (e.g. :8000; but disabled when empty)")
	cmd.Flags().StringVarP(&argFSName, "fsname", "n", "sfs", "Filesystem name as reported to the FUSE mount")
	cmd.Flags().BoolVarP(&argAllowOther, "allow-other", "a", false, "Allow other users to access the filesystem")
	cmd.Flags().BoolVarP(&argDebug, "debug", "d", false, "Enable debug verbosity on the log ring-buffer")
	cmd.Flags().IntVarP(&argRingSize, "ring-buffer-size", "r", config.DefaultRingBufferSize, "Line count of the log ring-buffer")

	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, mountDir string) error {
	rbuf := logging.NewRingBuffer(cfg.RingBufferSize, os.Stdout)
	rbuf.Debug().Store(cfg.Debug)

	store, err := newStore(cfg, rbuf)
	if err != nil {
		return err
	}

	session := core.NewSession(store, os.FileMode(cfg.RootMode),
		uint32(os.Getuid()), uint32(os.Getgid()))
	defer session.Close() //nolint:errcheck

	fsys, err := filesystem.NewFS(session, rbuf)
	if err != nil {
		return err
	}

	mountOpts := []fuse.MountOption{fuse.FSName(cfg.FSName), fuse.Subtype("sfs")}
	if cfg.AllowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(mountDir, mountOpts...)
	if err != nil {
		return fmt.Errorf("fs mount error: %w", err)
	}
	defer c.Close()
	defer fuse.Unmount(mountDir) //nolint:errcheck

	var wg sync.WaitGroup
	errChan := make(chan error, 1)
	wg.Go(func() {
		defer close(errChan)
		if err := fs.Serve(c, fsys); err != nil {
			errChan <- fmt.Errorf("fs serve error: %w", err)
		}
	})

	if cfg.WebAddr != "" {
		dash, err := webserver.NewFSDashboard(fsys, rbuf, Version)
		if err != nil {
			return err
		}
		srv := dash.Serve(cfg.WebAddr)
		defer srv.Close()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sig {
			rbuf.Println("Signal received, unmounting the filesystem...")

			if err := fuse.Unmount(mountDir); err != nil {
				rbuf.Printf("Unmount error: %v (try again later)", err)

				continue
			}

			return
		}
	}()

	sig1 := make(chan os.Signal, 1)
	signal.Notify(sig1, syscall.SIGUSR1)
	go func() {
		for range sig1 {
			rbuf.Println("Signal received, forcing garbage collection...")
			runtime.GC()
			debug.FreeOSMemory()
		}
	}()

	sig2 := make(chan os.Signal, 1)
	signal.Notify(sig2, syscall.SIGUSR2)
	go func() {
		for range sig2 {
			rbuf.Println("Signal received, printing stacktrace (to stderr)...")
			buf := make([]byte, stackTraceBuffer)
			stacklen := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:stacklen])
		}
	}()

	wg.Wait()

	return <-errChan
}

// newStore builds the content store per configuration. A backing
// directory selects on-disk object files, otherwise content lives in RAM.
func newStore(cfg *config.Config, rbuf *logging.RingBuffer) (core.Store, error) {
	if cfg.Backing == "" {
		return core.NewMemStore(), nil
	}

	store, err := core.NewVdirStore(cfg.Backing)
	if err != nil {
		return nil, fmt.Errorf("backing store error: %w", err)
	}

	swept, err := store.SweepStale()
	if err != nil {
		rbuf.Printf("backing sweep error: %v", err)
	} else if swept > 0 {
		rbuf.Printf("swept %d stale object(s) from backing directory", swept)
	}

	return store, nil
}
