package cluster

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/najoast/actormesh/core"
	cerrors "github.com/najoast/actormesh/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// typeRegistry maps wire names to the concrete message types they decode to.
type typeRegistry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

var messageTypes = newTypeRegistry()

func newTypeRegistry() *typeRegistry {
	r := &typeRegistry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	r.register("actormesh.unit", reflect.TypeOf(core.Unit{}))
	r.register("string", reflect.TypeOf(""))
	r.register("bool", reflect.TypeOf(false))
	r.register("int", reflect.TypeOf(0))
	r.register("int64", reflect.TypeOf(int64(0)))
	r.register("uint32", reflect.TypeOf(uint32(0)))
	r.register("uint64", reflect.TypeOf(uint64(0)))
	r.register("float64", reflect.TypeOf(float64(0)))
	r.register("bytes", reflect.TypeOf([]byte(nil)))
	return r
}

// RegisterMessage makes M sendable to and from remote peers under typeName.
// Every peer exchanging M must register it under the same name. Registering
// a name twice for different types panics.
func RegisterMessage[M any](typeName string) {
	messageTypes.register(typeName, reflect.TypeOf((*M)(nil)).Elem())
}

func (r *typeRegistry) register(name string, t reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byName[name]; ok && prev != t {
		panic(fmt.Sprintf("cluster: message name %q registered for both %s and %s", name, prev, t))
	}
	if prev, ok := r.byType[t]; ok && prev != name {
		panic(fmt.Sprintf("cluster: message type %s registered as both %q and %q", t, prev, name))
	}
	r.byName[name] = t
	r.byType[t] = name
}

// encode returns the wire name and msgpack payload of v. A nil v encodes
// as an empty name.
func (r *typeRegistry) encode(v any) (string, []byte, error) {
	if v == nil {
		return "", nil, nil
	}
	t := reflect.TypeOf(v)
	r.mu.RLock()
	name, ok := r.byType[t]
	r.mu.RUnlock()
	if !ok {
		return "", nil, cerrors.ErrUnknownMessageType.GenWithStackByArgs(t.String())
	}
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return "", nil, cerrors.ErrSerialization.GenWithStackByArgs(err.Error())
	}
	return name, payload, nil
}

func (r *typeRegistry) decode(name string, payload []byte) (any, error) {
	if name == "" {
		return nil, nil
	}
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, cerrors.ErrUnknownMessageType.GenWithStackByArgs(name)
	}
	v := reflect.New(t)
	if err := msgpack.Unmarshal(payload, v.Interface()); err != nil {
		return nil, cerrors.ErrSerialization.GenWithStackByArgs(err.Error())
	}
	return v.Elem().Interface(), nil
}
