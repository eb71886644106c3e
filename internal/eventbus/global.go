package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

var globalBus Bus

// Init устанавливает глобальную шину
func Init(bus Bus) { globalBus = bus }

// Publish отправляет событие в глобальную шину, если она инициализирована
func Publish(ctx context.Context, ev *Envelope) error {
	if globalBus == nil {
		return nil
	}
	return globalBus.Publish(ctx, ev)
}

// PublishEvent собирает Envelope из типа и JSON-пригодной нагрузки
// и отправляет его в глобальную шину
func PublishEvent(ctx context.Context, source, eventType string, payload interface{}) error {
	if globalBus == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return globalBus.Publish(ctx, &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Priority:  5,
		Payload:   data,
	})
}
