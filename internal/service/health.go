package service

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/annelo/go-world-server/internal/chunkmanager"
)

// Health сообщает состояние мира через стандартный gRPC health-протокол.
// Статус SERVING выставляется только в стадии Running.
type Health struct {
	server  *health.Server
	service string
}

// NewHealth создаёт сервер здоровья для сервиса с именем service.
// До первого оповещения статус NOT_SERVING.
func NewHealth(service string) *Health {
	h := &Health{server: health.NewServer(), service: service}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// OnStateChange подключается к менеджеру чанков через WithStateListener
func (h *Health) OnStateChange(s chunkmanager.State) {
	if s == chunkmanager.StateRunning {
		h.set(healthpb.HealthCheckResponse_SERVING)
		return
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

// MarkServing выставляет SERVING после успешного открытия мира
func (h *Health) MarkServing() {
	h.set(healthpb.HealthCheckResponse_SERVING)
}

// Shutdown переводит все сервисы в NOT_SERVING и отклоняет дальнейшие изменения
func (h *Health) Shutdown() {
	h.server.Shutdown()
}

// Register регистрирует health и reflection на grpc-сервере
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
	reflection.Register(s)
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(h.service, status)
}
