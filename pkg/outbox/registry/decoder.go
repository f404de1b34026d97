package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
)

// ErrNoDecoder is returned for an event type and version nobody registered.
var ErrNoDecoder = errors.New("no decoder registered")

type DecoderFunc func(payload json.RawMessage) (any, error)

// DecoderRegistry holds versioned payload decoders for subscribers. Envelope
// versions let a consumer accept old and new payload shapes side by side.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[string]DecoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: map[string]DecoderFunc{}}
}

func decoderKey(eventType enums.OutboxEventType, version int) string {
	return fmt.Sprintf("%s@v%d", eventType, version)
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decode DecoderFunc) {
	r.mu.Lock()
	r.decoders[decoderKey(eventType, version)] = decode
	r.mu.Unlock()
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	key := decoderKey(eventType, version)
	r.mu.RLock()
	decode, ok := r.decoders[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoDecoder, key)
	}
	return decode(payload)
}

// JSONDecoder decodes into a fresh *T.
func JSONDecoder[T any]() DecoderFunc {
	return func(payload json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(payload, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}
