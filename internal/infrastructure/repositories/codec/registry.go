package codec

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// Factory returns a new zero payload ready to be decoded into, normally a pointer
type Factory func() any

// Registry maps type tags to payload factories.
// Payloads of unregistered type tags decode to map[string]any.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds typeTag to factory, replacing any earlier binding
func (r *Registry) Register(typeTag string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeTag] = factory
}

// RegisterType binds typeTag to *T
func RegisterType[T any](r *Registry, typeTag string) {
	r.Register(typeTag, func() any {
		return new(T)
	})
}

// Registered reports whether typeTag has a factory
func (r *Registry) Registered(typeTag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeTag]
	return ok
}

// Encode serializes a payload
func (r *Registry) Encode(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(payload)
	return data, errors.Wrapf(err, "encode payload %T", payload)
}

// Decode builds the payload of typeTag from data
func (r *Registry) Decode(typeTag string, data []byte) (any, error) {
	r.mu.RLock()
	factory, ok := r.factories[typeTag]
	r.mu.RUnlock()

	if !ok {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrapf(err, "decode '%s' document", typeTag)
		}
		return doc, nil
	}

	payload := factory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, errors.Wrapf(err, "decode '%s' payload", typeTag)
	}
	return payload, nil
}

// ToDocument returns the generic document form of a payload as seen by query filters
func (r *Registry) ToDocument(payload any) (map[string]any, error) {
	if doc, ok := payload.(map[string]any); ok {
		return doc, nil
	}
	data, err := r.Encode(payload)
	if err != nil {
		return nil, err
	}
	return DocumentOf(data)
}

// DocumentOf decodes encoded payload bytes into a generic document
func DocumentOf(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode document")
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// Clone returns a decoded copy of payload that shares no memory with it
func (r *Registry) Clone(typeTag string, payload any) (any, error) {
	data, err := r.Encode(payload)
	if err != nil {
		return nil, err
	}
	return r.Decode(typeTag, data)
}
