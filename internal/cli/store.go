package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/photocatalog/internal/config"
	"github.com/dmitrijs2005/photocatalog/internal/logging"
	"github.com/dmitrijs2005/photocatalog/internal/objstore"
)

// openStore builds the configured backend. Calls are instrumented per
// attempt and transient failures are retried.
func openStore(ctx context.Context, cfg *config.Config, log logging.Logger) (objstore.Store, error) {
	var base objstore.Store
	switch cfg.Backend {
	case config.BackendS3:
		s, err := objstore.NewS3Store(ctx, objstore.S3Options{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
		}, log)
		if err != nil {
			return nil, err
		}
		base = s
	case config.BackendFS:
		s, err := objstore.NewFSStore(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		base = s
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	log.Info(ctx, "object store ready", "backend", cfg.Backend)
	return objstore.NewRetrying(objstore.NewInstrumented(base), cfg.RetryAttempts, cfg.RetryBaseDelay, log), nil
}

// serveMetrics exposes the default Prometheus registry on addr until ctx is
// done.
func serveMetrics(ctx context.Context, addr string, log logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		log.Info(ctx, "stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info(ctx, "starting metrics server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
