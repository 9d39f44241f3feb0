// Package functions provides concrete registry.Function implementations:
// the reply and input-request utilities, an HTTP caller, LLM chat
// adapters, and a MySQL query helper.
package functions

import "context"

// replyFunctionName is the canonical dotted name workflow definitions use
// for the reply utility.
const replyFunctionName = "utils.reply.reply"

// Reply is the reply utility referenced by the engine's message-history
// maintenance step: when a step's function is this one, the engine appends
// an assistant message built from its resolved input after Call returns.
// Call itself is a pure pass-through, returning its input unchanged so the
// reply text is still available as the step's own output.
type Reply struct{}

// NewReply returns the reply utility function.
func NewReply() Reply { return Reply{} }

// Name returns the dotted function name.
func (Reply) Name() string { return replyFunctionName }

// Call returns args unchanged.
func (Reply) Call(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return args, nil
}

// IsReplyUtility marks Reply as the message-history reply function.
func (Reply) IsReplyUtility() bool { return true }
