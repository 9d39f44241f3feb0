package functions

import "context"

// Noop is a registered function that does nothing and reports an empty
// result, for steps whose purpose is structural (a branch point, a
// placeholder awaiting a future implementation) rather than computational.
// Unlike a step with no function attribute at all, a noop step still has a
// name the registry can validate at load time.
type Noop struct{}

// NewNoop returns the no-op function.
func NewNoop() Noop { return Noop{} }

// Name returns the dotted function name.
func (Noop) Name() string { return "utils.noop.noop" }

// Call returns an empty result, ignoring args.
func (Noop) Call(context.Context, map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}
