package toolexec

import (
	"context"

	"github.com/forgecore/agentcore/pkg/domain"
)

type conversationKey struct{}

// WithConversation attaches conv to ctx so handlers with no Operation
// (task list, attempt_completion) can read and mutate state scoped to the
// turn being executed, without the Handler interface itself needing a
// conversation parameter.
func WithConversation(ctx context.Context, conv *domain.Conversation) context.Context {
	if conv == nil {
		return ctx
	}
	return context.WithValue(ctx, conversationKey{}, conv)
}

// ConversationFromContext retrieves the conversation attached by
// WithConversation, or nil if none was attached.
func ConversationFromContext(ctx context.Context) *domain.Conversation {
	conv, _ := ctx.Value(conversationKey{}).(*domain.Conversation)
	return conv
}
