package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the persisted envelope around a logical value. Metadata lives
// beside the value rather than inside it, so application fields named
// lastAccessed or schemaVersion are never overwritten.
type Record struct {
	Value         json.RawMessage `json:"value"`
	LastAccessed  time.Time       `json:"lastAccessed"`
	SchemaVersion string          `json:"schemaVersion"`
}

func encodeRecord(value json.RawMessage, now time.Time, schemaVersion string) ([]byte, error) {
	return json.Marshal(Record{
		Value:         value,
		LastAccessed:  now.UTC(),
		SchemaVersion: schemaVersion,
	})
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if len(rec.Value) == 0 {
		return nil, fmt.Errorf("%w: missing value", ErrCorruptRecord)
	}
	return &rec, nil
}

// encodeValue converts an arbitrary value into its canonical JSON form
func encodeValue(value any) (json.RawMessage, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
