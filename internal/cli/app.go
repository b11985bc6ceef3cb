package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/photocatalog/internal/config"
	"github.com/dmitrijs2005/photocatalog/internal/logging"
	"github.com/dmitrijs2005/photocatalog/internal/media"
	"github.com/dmitrijs2005/photocatalog/internal/services"
)

type App struct {
	cfg    *config.Config
	lib    *services.Library
	log    logging.Logger
	in     io.Reader
	out    io.Writer
	syncMu chan struct{}
}

// NewApp sets up logging, the object store and the local library.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	if err := askSecretKey(cfg, os.Stdout); err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	resolver := media.MultiResolver{media.KindLocalFile: media.FileResolver{}}
	lib, err := services.OpenLibrary(ctx, services.LibraryOptions{
		UserID:         cfg.UserID,
		DataDir:        cfg.DataDir,
		MaxItemRetries: cfg.MaxItemRetries,
		HashCacheSize:  cfg.HashCacheSize,
		HashCacheTTL:   cfg.HashCacheTTL,
	}, store, resolver, log)
	if err != nil {
		return nil, err
	}

	return newApp(cfg, lib, log, os.Stdin, os.Stdout), nil
}

func newApp(cfg *config.Config, lib *services.Library, log logging.Logger, in io.Reader, out io.Writer) *App {
	return &App{cfg: cfg, lib: lib, log: log, in: in, out: out, syncMu: make(chan struct{}, 1)}
}

// Run starts the background workers and the REPL, and closes the library
// when the user exits.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.MetricsAddr != "" {
		go func() {
			if err := serveMetrics(ctx, a.cfg.MetricsAddr, a.log); err != nil {
				a.log.Error(ctx, "metrics server stopped", "error", err)
			}
		}()
	}
	go a.StartSyncWatcher(ctx, a.cfg.SyncInterval)

	printlnFn("photocatalog (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.in))

	cancel()
	return a.lib.Close()
}

func (a *App) getStatus() string {
	st := a.lib.Status()
	s := fmt.Sprintf("%s, %d starred", st.UserID, st.Starred)
	if len(st.DirtyShards) > 0 {
		s += ", unsynced"
	}
	return "(" + s + ")"
}

// StartSyncWatcher syncs every interval until ctx is done. A sync is skipped
// when another one is still running.
func (a *App) StartSyncWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.backgroundSync(ctx, interval)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) backgroundSync(ctx context.Context, maxAge time.Duration) {
	select {
	case a.syncMu <- struct{}{}:
	default:
		return
	}
	defer func() { <-a.syncMu }()

	changed, err := a.lib.SyncIfStale(ctx, maxAge)
	if err != nil {
		a.log.Warn(ctx, "background sync failed", "error", err)
		return
	}
	if changed {
		a.log.Info(ctx, "catalog updated from remote")
	}
}
