package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSPublisher отправляет события в NATS в формате JSON.
// Клиент nats буферизует исходящие сообщения, поэтому Publish не ждёт сеть.
type NATSPublisher struct {
	conn   *nats.Conn
	world  string
	logger *zap.SugaredLogger
}

// ConnectNATS подключается к серверу url. Переподключение выполняет клиент.
func ConnectNATS(url, world string, logger *zap.SugaredLogger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	conn, err := nats.Connect(url,
		nats.Name("world-server:"+world),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnw("Соединение с шиной событий потеряно", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("подключение к nats %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn, world: world, logger: logger}, nil
}

// Publish реализует Publisher. Поле World заполняется, если пустое.
func (p *NATSPublisher) Publish(ev Event) {
	if ev.World == "" {
		ev.World = p.world
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Errorw("Не удалось сериализовать событие", "kind", ev.Kind, "error", err)
		return
	}
	if err := p.conn.Publish(Subject(ev.World, ev.Kind), data); err != nil {
		p.logger.Debugw("Событие не отправлено", "kind", ev.Kind, "error", err)
	}
}

// Close отправляет накопленные сообщения и закрывает соединение
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
