package store

import (
	"encoding/json"
	"errors"
	"time"
)

var errMissingValue = errors.New("entry has no value field")

// envelope is the on-backend representation of every entry.
type envelope struct {
	Value      json.RawMessage `json:"value"`
	Expiration *int64          `json:"expiration,omitempty"`
}

func encodeEnvelope(value any, expiresAt *time.Time) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	env := envelope{Value: raw}
	if expiresAt != nil {
		ms := expiresAt.UnixMilli()
		env.Expiration = &ms
	}
	return json.Marshal(env)
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, err
	}
	if env.Value == nil {
		return envelope{}, errMissingValue
	}
	return env, nil
}

// expired reports whether the entry is logically absent at now.
func (e envelope) expired(now time.Time) bool {
	return e.Expiration != nil && now.UnixMilli() >= *e.Expiration
}

func (e envelope) expiresAt() *time.Time {
	if e.Expiration == nil {
		return nil
	}
	t := time.UnixMilli(*e.Expiration)
	return &t
}
