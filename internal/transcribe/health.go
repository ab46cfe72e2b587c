package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ErrHealthDisabled is returned when no gRPC health address is configured.
var ErrHealthDisabled = errors.New("grpc health probe disabled")

// CheckHealth queries the standard gRPC health service at addr.
//
// An empty service name asks for overall server health.
func CheckHealth(ctx context.Context, addr string, service string, dialTimeout time.Duration) (healthpb.HealthCheckResponse_ServingStatus, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return healthpb.HealthCheckResponse_UNKNOWN, ErrHealthDisabled
	}
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial grpc health %q: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	readyCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("wait for grpc readiness: %w", err)
	}

	resp, err := healthpb.NewHealthClient(conn).Check(readyCtx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("grpc health check: %w", err)
	}
	return resp.GetStatus(), nil
}

// WaitReady polls the configured health address until it reports SERVING or ctx ends.
//
// It returns nil immediately when no health address is configured.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	if c.healthAddr == "" {
		return nil
	}
	if interval <= 0 {
		interval = time.Second
	}
	for {
		status, err := CheckHealth(ctx, c.healthAddr, "", interval)
		if err == nil && status == healthpb.HealthCheckResponse_SERVING {
			return nil
		}
		if c.logger != nil {
			fields := []any{"addr", c.healthAddr, "status", status.String()}
			if err != nil {
				fields = append(fields, "error", err.Error())
			}
			c.logger.Debug("transcriber not ready", fields...)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// HealthAddr returns the configured gRPC health address, if any.
func (c *Client) HealthAddr() string {
	return c.healthAddr
}

// waitForReady blocks until the connection enters Ready or fails.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}
