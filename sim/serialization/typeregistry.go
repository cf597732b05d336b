// Package serialization names payload types so that events can be rebuilt
// on the other side of a partition boundary.
package serialization

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// ErrUnknownType is returned for payload types that were never registered.
var ErrUnknownType = errors.New("unknown payload type")

type registeredType struct {
	t     reflect.Type
	isPtr bool
}

// A TypeRegistry maps type names to payload types.
type TypeRegistry struct {
	lock sync.RWMutex

	codec Codec
	types map[string]registeredType
	names map[reflect.Type]string
}

// NewTypeRegistry creates an empty registry that encodes payloads with the
// given codec.
func NewTypeRegistry(codec Codec) *TypeRegistry {
	return &TypeRegistry{
		codec: codec,
		types: make(map[string]registeredType),
		names: make(map[reflect.Type]string),
	}
}

// RegisterType registers the type of example. Registering a pointer means
// that decoded payloads are pointers as well.
func (r *TypeRegistry) RegisterType(example any) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	// Allow the example to be a pointer or a struct.
	t := reflect.TypeOf(example)
	if t == nil {
		return errors.New("cannot register a nil payload type")
	}

	isPtr := t.Kind() == reflect.Ptr
	if isPtr {
		t = t.Elem()
	}

	typeName := t.PkgPath() + "." + t.Name()
	if _, ok := r.types[typeName]; ok {
		return errors.Errorf("type %s already registered", typeName)
	}

	r.types[typeName] = registeredType{t: t, isPtr: isPtr}
	r.names[reflect.TypeOf(example)] = typeName

	return nil
}

// MustRegisterType is RegisterType that panics on failure.
func (r *TypeRegistry) MustRegisterType(example any) {
	if err := r.RegisterType(example); err != nil {
		panic(err)
	}
}

// TypeName returns the registered name of the type of v.
func (r *TypeRegistry) TypeName(v any) (string, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	name, ok := r.names[reflect.TypeOf(v)]

	return name, ok
}

// Encode returns the type name and the encoded form of v.
func (r *TypeRegistry) Encode(v any) (string, []byte, error) {
	name, ok := r.TypeName(v)
	if !ok {
		return "", nil, errors.Wrapf(ErrUnknownType, "%T", v)
	}

	data, err := r.codec.Marshal(v)
	if err != nil {
		return "", nil, errors.Wrapf(err, "encoding %s", name)
	}

	return name, data, nil
}

// Decode rebuilds a value of the named type from data.
func (r *TypeRegistry) Decode(typeName string, data []byte) (any, error) {
	r.lock.RLock()
	rt, ok := r.types[typeName]
	r.lock.RUnlock()

	if !ok {
		return nil, errors.Wrap(ErrUnknownType, typeName)
	}

	ptr := reflect.New(rt.t)
	if err := r.codec.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", typeName)
	}

	if rt.isPtr {
		return ptr.Interface(), nil
	}

	return ptr.Elem().Interface(), nil
}
