// Package options implements the functional-options pattern used to build
// iterwalk.Config without a sprawling positional constructor. Grounded on
// x/options.Option / plugin.WithName-style constructors, generalized from
// cfg interface{} plus a type assertion per option to a generic Option[T] —
// the struct being built is always known at the call site, so the assertion
// the original pattern needed has no reason to survive the rewrite.
package options

// Option mutates a *T in place.
type Option[T any] func(*T)

// Apply runs every option against v, in order.
func Apply[T any](v *T, opts ...Option[T]) {
	for _, opt := range opts {
		opt(v)
	}
}
