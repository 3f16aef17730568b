package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer запускает сервер NATS внутри процесса, для одиночного запуска
// без внешней шины.
type EmbeddedServer struct {
	ns *server.Server
}

// StartEmbedded запускает сервер на host:port. Порт -1 выбирает свободный.
func StartEmbedded(host string, port int, timeout time.Duration) (*EmbeddedServer, error) {
	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoSigs: true, // сигналы обрабатывает приложение
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("создание сервера nats: %w", err)
	}

	ns.Start()
	if !ns.ReadyForConnections(timeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("сервер nats не готов к подключениям")
	}
	return &EmbeddedServer{ns: ns}, nil
}

// ClientURL возвращает адрес для подключения клиентов
func (s *EmbeddedServer) ClientURL() string {
	return s.ns.ClientURL()
}

// Shutdown останавливает сервер и ждёт завершения
func (s *EmbeddedServer) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
