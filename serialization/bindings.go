package serialization

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/glimte/mmate-schema/contracts"
)

// Bindings maps versioned type keys to the Go struct types their payloads
// decode into
type Bindings struct {
	types map[contracts.TypeKey]reflect.Type
	keys  map[reflect.Type]contracts.TypeKey
	mu    sync.RWMutex
}

// NewBindings creates an empty binding table
func NewBindings() *Bindings {
	return &Bindings{
		types: make(map[contracts.TypeKey]reflect.Type),
		keys:  make(map[reflect.Type]contracts.TypeKey),
	}
}

// Register binds key to the struct type of sample
func (b *Bindings) Register(key contracts.TypeKey, sample any) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if sample == nil {
		return fmt.Errorf("sample cannot be nil")
	}

	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("bound type must be a struct, got %v", t.Kind())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, exists := b.types[key]; exists {
		if existing == t {
			return nil
		}
		return fmt.Errorf("type key %s already bound to %v", key, existing)
	}
	if existingKey, exists := b.keys[t]; exists {
		return fmt.Errorf("%v already bound to %s", t, existingKey)
	}

	b.types[key] = t
	b.keys[t] = key
	return nil
}

// Get returns the struct type bound to key
func (b *Bindings) Get(key contracts.TypeKey) (reflect.Type, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, exists := b.types[key]
	if !exists {
		return nil, fmt.Errorf("%w: no Go type bound to %s", contracts.ErrUnknownTypeKey, key)
	}
	return t, nil
}

// New returns a pointer to a fresh instance of the type bound to key
func (b *Bindings) New(key contracts.TypeKey) (any, error) {
	t, err := b.Get(key)
	if err != nil {
		return nil, err
	}
	return reflect.New(t).Interface(), nil
}

// KeyOf returns the type key bound to value's struct type
func (b *Bindings) KeyOf(value any) (contracts.TypeKey, error) {
	if value == nil {
		return contracts.TypeKey{}, fmt.Errorf("value cannot be nil")
	}
	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	key, exists := b.keys[t]
	if !exists {
		return contracts.TypeKey{}, fmt.Errorf("%v is not bound to a type key", t)
	}
	return key, nil
}

// IsBound reports whether key has a Go type
func (b *Bindings) IsBound(key contracts.TypeKey) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.types[key]
	return exists
}

// Keys returns the bound type keys in order
func (b *Bindings) Keys() []contracts.TypeKey {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]contracts.TypeKey, 0, len(b.types))
	for key := range b.types {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
