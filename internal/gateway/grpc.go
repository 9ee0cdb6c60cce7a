// ABOUTME: gRPC health service reflecting whether any browser agent is attached
// ABOUTME: The bridge service reports SERVING only while at least one agent is connected

package gateway

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// HealthService is the gRPC health service name for agent presence. The
// empty service name reports the process itself.
const HealthService = "strudel.bridge"

func newHealthServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// updateHealth publishes the current agent presence to the health service.
func (g *Gateway) updateHealth() {
	if g.health == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if g.hub.HasConnectedClients() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(HealthService, status)
}
