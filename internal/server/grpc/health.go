// Package grpcserver hosts the user directory daemon's gRPC plumbing:
// interceptors and a health service that follows backing store availability.
package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DirectoryService is the health service name reported for the user directory.
const DirectoryService = "userdir.Directory"

// Prober reports whether the backing store can be read.
type Prober interface {
	IsAvailable(ctx context.Context) bool
}

// HealthWatcher mirrors Prober availability into a grpc health server.
type HealthWatcher struct {
	hs       *health.Server
	probe    Prober
	interval time.Duration
	log      *zap.Logger

	last healthpb.HealthCheckResponse_ServingStatus
}

// NewHealthWatcher constructs a watcher; call Run to start probing.
func NewHealthWatcher(hs *health.Server, probe Prober, interval time.Duration, log *zap.Logger) *HealthWatcher {
	return &HealthWatcher{hs: hs, probe: probe, interval: interval, log: log, last: healthpb.HealthCheckResponse_UNKNOWN}
}

// Check probes once and publishes the result.
func (w *HealthWatcher) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if w.probe.IsAvailable(ctx) {
		st = healthpb.HealthCheckResponse_SERVING
	}
	if st != w.last {
		w.log.Info("directory availability changed",
			zap.String("from", w.last.String()),
			zap.String("to", st.String()),
		)
		w.last = st
	}
	w.hs.SetServingStatus(DirectoryService, st)
	w.hs.SetServingStatus("", st)
	return st
}

// Run probes every interval until ctx is done, then marks everything NOT_SERVING.
func (w *HealthWatcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			w.hs.Shutdown()
			return
		case <-t.C:
			w.Check(ctx)
		}
	}
}
