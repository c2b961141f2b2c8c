// Package archive carries accepted chat messages from the gateway to the
// history store, over Kafka or, when Kafka is off, chat-api's ingest route.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
)

const recordVersion = 1

var ErrInvalidRecord = errors.New("invalid archive record")

// Record is the Kafka message value and the ingest request body.
type Record struct {
	Version int            `json:"v"`
	Message domain.Message `json:"message"`
}

func encodeRecord(msg domain.Message) ([]byte, error) {
	return json.Marshal(Record{Version: recordVersion, Message: msg})
}

func decodeRecord(value []byte) (domain.Message, error) {
	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.Version != recordVersion {
		return domain.Message{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidRecord, rec.Version)
	}
	m := rec.Message
	if m.ID == "" || m.SenderIdentity == "" || m.Timestamp.IsZero() {
		return domain.Message{}, fmt.Errorf("%w: missing id, sender or timestamp", ErrInvalidRecord)
	}
	if m.Kind != domain.KindGlobal && m.Kind != domain.KindPrivate {
		return domain.Message{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, m.Kind)
	}
	if m.Kind == domain.KindPrivate && m.RecipientIdentity == "" {
		return domain.Message{}, fmt.Errorf("%w: private message without recipient", ErrInvalidRecord)
	}
	return m, nil
}
