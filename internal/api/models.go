package api

import "github.com/phrazzld/parley/internal/domain"

// MessageRequest is one conversation entry in a request body.
type MessageRequest struct {
	Role    string `json:"role"    validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// ConversationRequest is the body of POST /api/jobs and POST /api/chat.
// A missing session_id starts a new session.
type ConversationRequest struct {
	SessionID string           `json:"session_id" validate:"omitempty,max=256"`
	Messages  []MessageRequest `json:"messages"   validate:"required,min=1,dive"`
}

// DomainMessages converts the request messages.
func (r ConversationRequest) DomainMessages() []domain.Message {
	out := make([]domain.Message, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = domain.Message{Role: domain.Role(m.Role), Content: m.Content}
	}
	return out
}

// EnqueueResponse is returned by POST /api/jobs.
type EnqueueResponse struct {
	Enqueued      bool   `json:"enqueued"`
	SessionID     string `json:"session_id"`
	CorrelationID string `json:"correlation_id"`
}

// ResultResponse is returned by GET /api/results/{sessionID}. Result is
// null when nothing has been published or the result expired.
type ResultResponse struct {
	Result *string `json:"result"`
}
