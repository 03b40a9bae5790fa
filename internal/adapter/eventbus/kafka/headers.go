package kafka

import (
	"encoding/json"

	"txrelay/internal/core/domain"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// buildHeaders carries the envelope's identity fields on the wire outside
// the JSON payload, the way a delivery-report consumer would want to
// inspect them without decoding the value.
func buildHeaders(msg *domain.EventMessage) []kafka.Header {
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(msg.EventID.String())},
		{Key: "event_type", Value: []byte(msg.EventType)},
		{Key: "origin_system", Value: []byte(msg.OriginSystem)},
	}
	if msg.TransactionID != nil {
		headers = append(headers, kafka.Header{Key: "transaction_id", Value: []byte(msg.TransactionID.String())})
	}
	if msg.WebhookID != nil {
		headers = append(headers, kafka.Header{Key: "webhook_id", Value: []byte(msg.WebhookID.String())})
	}
	return headers
}

func encodeMessage(msg *domain.EventMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func decodeMessage(raw []byte) (*domain.EventMessage, error) {
	var msg domain.EventMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
