package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/courier-backend/pkg/enums"
)

// ErrNoDecoder is returned by Decode for an event type and version nobody
// registered.
var ErrNoDecoder = errors.New("no payload decoder registered")

// DecodeFunc turns the envelope data of one event version into a value.
type DecodeFunc func(data json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// Decoders routes envelope payloads to the decoder registered for their
// event type and schema version. Registration happens at startup; Decode is
// safe for concurrent use.
type Decoders struct {
	mu    sync.RWMutex
	funcs map[decoderKey]DecodeFunc
	types map[enums.OutboxEventType]struct{}
}

func NewDecoders() *Decoders {
	return &Decoders{
		funcs: map[decoderKey]DecodeFunc{},
		types: map[enums.OutboxEventType]struct{}{},
	}
}

// Register panics on a nil decoder or a duplicate key, both of which are
// wiring mistakes. Version zero is stored as v1, the version envelopes carry
// when the producer left it unset.
func (d *Decoders) Register(eventType enums.OutboxEventType, version int, decode DecodeFunc) {
	if decode == nil {
		panic(fmt.Sprintf("registry: nil decoder for %s", eventType))
	}
	key := decoderKey{eventType: eventType, version: normalizeVersion(version)}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.funcs[key]; dup {
		panic(fmt.Sprintf("registry: decoder for %s@v%d registered twice", key.eventType, key.version))
	}
	d.funcs[key] = decode
	d.types[eventType] = struct{}{}
}

// Handles reports whether any version of eventType has a decoder.
func (d *Decoders) Handles(eventType enums.OutboxEventType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.types[eventType]
	return ok
}

func (d *Decoders) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	key := decoderKey{eventType: eventType, version: normalizeVersion(version)}
	d.mu.RLock()
	decode, ok := d.funcs[key]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, key.eventType, key.version)
	}
	return decode(data)
}

// Typed returns a decoder that unmarshals into a T value.
func Typed[T any]() DecodeFunc {
	return func(data json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func normalizeVersion(version int) int {
	if version <= 0 {
		return 1
	}
	return version
}
