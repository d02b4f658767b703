package cache

import "context"

type functionKey struct{}

// WithFunction records which function a cached value belongs to. Backends
// that can index by function read it back with FunctionFromContext.
func WithFunction(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, functionKey{}, name)
}

func FunctionFromContext(ctx context.Context) string {
	name, _ := ctx.Value(functionKey{}).(string)

	return name
}
