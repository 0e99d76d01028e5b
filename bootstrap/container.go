package bootstrap

import (
	"reflect"

	"github.com/pingcap/errors"
	"go.uber.org/dig"
)

// Container is the dependency injection container of an application.
// Components are declared as constructors and built on first use.
type Container struct {
	c *dig.Container
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{c: dig.New()}
}

// Provide registers a constructor. Its parameters are resolved from the
// container and its results become available to later constructors.
func (c *Container) Provide(constructor interface{}, opts ...dig.ProvideOption) error {
	return errors.Trace(c.c.Provide(constructor, opts...))
}

// Supply registers ready-made values under their dynamic types.
func (c *Container) Supply(values ...interface{}) error {
	for _, v := range values {
		if v == nil {
			return errors.New("cannot supply nil")
		}
		val := reflect.ValueOf(v)
		fnType := reflect.FuncOf(nil, []reflect.Type{val.Type()}, false)
		fn := reflect.MakeFunc(fnType, func([]reflect.Value) []reflect.Value {
			return []reflect.Value{val}
		})
		if err := c.c.Provide(fn.Interface()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Invoke calls fn with its parameters resolved from the container.
func (c *Container) Invoke(fn interface{}) error {
	return errors.Trace(c.c.Invoke(fn))
}

// Resolve builds the value of the type target points to and stores it in
// target.
func (c *Container) Resolve(target interface{}) error {
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Ptr || ptr.IsNil() {
		return errors.Errorf("target must be a non-nil pointer, got %T", target)
	}
	elem := ptr.Elem()
	fnType := reflect.FuncOf([]reflect.Type{elem.Type()}, nil, false)
	fn := reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		elem.Set(args[0])
		return nil
	})
	return errors.Trace(c.c.Invoke(fn.Interface()))
}
