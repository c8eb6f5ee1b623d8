package queue

import (
	"context"
	"fmt"

	"github.com/smukkama/campus-energy/internal/model"
	"github.com/smukkama/campus-energy/internal/protocol"
)

// EventPublisher fans committed readings and pass summaries out to Kafka
type EventPublisher struct {
	readings *Producer
	passes   *Producer
}

// NewEventPublisher creates a publisher over the readings and passes topics
func NewEventPublisher(readings, passes *Producer) *EventPublisher {
	return &EventPublisher{readings: readings, passes: passes}
}

// PublishReadings publishes one committed batch
func (p *EventPublisher) PublishReadings(ctx context.Context, passID string, readings []model.EnergyReading) error {
	messages, err := ReadingMessages(passID, readings)
	if err != nil {
		return err
	}
	return p.readings.PublishBatch(ctx, messages)
}

// PublishPass publishes a pass summary keyed by pass id
func (p *EventPublisher) PublishPass(ctx context.Context, event *protocol.PassEvent) error {
	data, err := protocol.EncodePassEvent(event)
	if err != nil {
		return fmt.Errorf("failed to encode pass event: %w", err)
	}
	return p.passes.Publish(ctx, event.PassID, data)
}

// Close closes both producers
func (p *EventPublisher) Close() error {
	errR := p.readings.Close()
	errP := p.passes.Close()
	if errR != nil {
		return errR
	}
	return errP
}
