// Package grpcserver exposes the standard gRPC health service, reporting
// SERVING only while the store answers pings.
package grpcserver

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "slotchat.booking"

type Health struct {
	srv    *health.Server
	ping   func(context.Context) error
	logger *slog.Logger
	every  time.Duration
	last   healthpb.HealthCheckResponse_ServingStatus
}

func Register(s *grpc.Server, ping func(context.Context) error, logger *slog.Logger, every time.Duration) *Health {
	if every <= 0 {
		every = 10 * time.Second
	}
	h := &Health{srv: health.NewServer(), ping: ping, logger: logger, every: every}
	healthpb.RegisterHealthServer(s, h.srv)
	return h
}

// Refresh pings the store once and publishes the resulting status.
func (h *Health) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.ping(pingCtx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		if h.last != status {
			h.logger.Warn("store unreachable; grpc health NOT_SERVING", "err", err)
		}
	}
	h.last = status
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
	return status
}

// Run refreshes on an interval until ctx is done, then marks everything NOT_SERVING.
func (h *Health) Run(ctx context.Context) {
	h.Refresh(ctx)
	ticker := time.NewTicker(h.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
