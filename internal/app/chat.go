package app

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"popoyan/internal/plantid"
	"popoyan/pkg/domain"
)

// ChatAnswer carries the provider's full reply for one question.
type ChatAnswer struct {
	Messages        []domain.ChatMessage `json:"messages"`
	Identification  json.RawMessage      `json:"identification,omitempty"`
	RemainingCalls  *int                 `json:"remaining_calls,omitempty"`
	ModelParameters json.RawMessage      `json:"model_parameters,omitempty"`
}

// AskChat sends a question about an identification to the provider and
// persists the returned turns. Persistence is best effort: a storage failure
// is logged and the provider's answer is still returned.
func (a *App) AskChat(accessToken, question string, req plantid.ChatRequest) (ChatAnswer, error) {
	req.Question = question
	resp, err := a.provider.AskChat(accessToken, req)
	if err != nil {
		return ChatAnswer{}, err
	}

	msgs := messagesFromTurns(accessToken, resp.Messages)
	now := time.Now().UTC()
	for i := range msgs {
		if msgs[i].CreatedAt.IsZero() {
			msgs[i].CreatedAt = now
		}
	}
	if len(msgs) > 0 {
		if err := a.store.AppendChatMessages(accessToken, msgs); err != nil {
			slog.Error("failed to persist chat messages", "access_token", accessToken, "error", err)
		}
	}
	return ChatAnswer{
		Messages:        msgs,
		Identification:  resp.Identification,
		RemainingCalls:  resp.RemainingCalls,
		ModelParameters: resp.ModelParameters,
	}, nil
}

// GetChatHistory returns the stored conversation for one identification,
// oldest first with questions ordered before answers on equal timestamps.
func (a *App) GetChatHistory(accessToken string) ([]domain.ChatMessage, error) {
	msgs, err := a.store.ListChatMessages(accessToken)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}

// GetAllChatHistory returns every stored conversation grouped by token order.
func (a *App) GetAllChatHistory() ([]domain.ChatMessage, error) {
	msgs, err := a.store.ListAllChatMessages()
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}

// GetRemoteSnapshot fetches the provider's view of a conversation without
// touching local storage.
func (a *App) GetRemoteSnapshot(accessToken string) (plantid.ChatResponse, error) {
	return a.provider.GetConversationSnapshot(accessToken)
}

// messagesFromTurns converts provider turns into storable messages.
func messagesFromTurns(accessToken string, turns []plantid.ChatTurn) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(turns))
	for _, t := range turns {
		mt := domain.MessageType(t.Type)
		if mt != domain.MessageQuestion && mt != domain.MessageAnswer {
			continue
		}
		msgs = append(msgs, domain.ChatMessage{
			AccessToken: accessToken,
			Content:     t.Content,
			Type:        mt,
			CreatedAt:   parseCreated(t.Created),
		})
	}
	return msgs
}

// parseCreated handles the provider's two timestamp shapes: RFC 3339 strings
// and unix seconds with a fractional part. A zero time lets the store default
// to now.
func parseCreated(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	}
	return time.Time{}
}
