package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// TopicPlanGenerated receives one event per successful pipeline run.
const TopicPlanGenerated = "medplan.plan.generated"

// EventTypePlanGenerated tags PlanGeneratedPayload envelopes.
const EventTypePlanGenerated = "plan.generated"

const sourceService = "medplan-apiserver"

// EventEnvelope standardises event messages.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion string          `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// PlanGeneratedPayload summarises a plan without any medication details.
type PlanGeneratedPayload struct {
	RequestID         string    `json:"request_id"`
	MedicationCount   int       `json:"medication_count"`
	NeedsConfirmation bool      `json:"needs_confirmation"`
	HasInteractions   bool      `json:"has_interactions"`
	OverallConfidence float64   `json:"overall_confidence"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// NewEventEnvelope marshals payload into a fresh envelope.
func NewEventEnvelope(eventType string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Source:        sourceService,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: "v1",
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the payload into target.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New(errors.ErrCodeSerialization, "envelope has no payload")
	}
	return json.Unmarshal(e.Payload, target)
}

// ToMessage renders the envelope as a Message keyed by key.
func (e *EventEnvelope) ToMessage(topic, key string) (*Message, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	return &Message{
		Topic: topic,
		Key:   []byte(key),
		Value: val,
		Headers: map[string]string{
			"event_type":     e.EventType,
			"source_service": e.Source,
			"schema_version": e.SchemaVersion,
		},
		Timestamp: e.Timestamp,
	}, nil
}

// PlanEventPublisher publishes plan-generated events through a Producer.
type PlanEventPublisher struct {
	producer *Producer
	topic    string
}

// NewPlanEventPublisher defaults topic to TopicPlanGenerated.
func NewPlanEventPublisher(p *Producer, topic string) *PlanEventPublisher {
	if topic == "" {
		topic = TopicPlanGenerated
	}
	return &PlanEventPublisher{producer: p, topic: topic}
}

// PublishPlanGenerated wraps payload in an envelope keyed by request ID.
func (pub *PlanEventPublisher) PublishPlanGenerated(ctx context.Context, payload PlanGeneratedPayload) error {
	env, err := NewEventEnvelope(EventTypePlanGenerated, payload)
	if err != nil {
		return err
	}
	msg, err := env.ToMessage(pub.topic, payload.RequestID)
	if err != nil {
		return err
	}
	return pub.producer.Publish(ctx, msg)
}

// Close closes the underlying producer.
func (pub *PlanEventPublisher) Close() error {
	return pub.producer.Close()
}
