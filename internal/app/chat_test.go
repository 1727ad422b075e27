package app

import (
	"errors"
	"testing"
	"time"

	"popoyan/internal/plantid"
	"popoyan/internal/store"
	"popoyan/pkg/domain"
)

func TestAskChatPersistsThreadIdempotently(t *testing.T) {
	thread := []plantid.ChatTurn{
		{Content: "Is it edible?", Type: "question", Created: "2026-04-01T10:00:00Z"},
		{Content: "No, the leaves are toxic.", Type: "answer", Created: "2026-04-01T10:00:05Z"},
	}
	provider := &fakeProvider{chatResp: plantid.ChatResponse{Messages: thread}}
	a, memStore := newTestApp(t, provider)

	answer, err := a.AskChat("tok-chat", "Is it edible?", plantid.ChatRequest{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if len(answer.Messages) != 2 {
		t.Fatalf("answer messages = %d, want 2", len(answer.Messages))
	}

	// The provider returns the full thread on every call; replaying it must
	// not duplicate rows.
	provider.chatResp.Messages = append(thread,
		plantid.ChatTurn{Content: "How much water?", Type: "question", Created: "2026-04-01T10:01:00Z"},
		plantid.ChatTurn{Content: "Weekly.", Type: "answer", Created: "2026-04-01T10:01:04Z"},
	)
	if _, err := a.AskChat("tok-chat", "How much water?", plantid.ChatRequest{}); err != nil {
		t.Fatalf("second ask: %v", err)
	}

	msgs, err := memStore.ListChatMessages("tok-chat")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("stored %d messages, want 4", len(msgs))
	}
	if msgs[0].Content != "Is it edible?" || msgs[3].Content != "Weekly." {
		t.Fatalf("thread out of order: %+v", msgs)
	}
}

func TestAskChatReturnsFullProviderPayload(t *testing.T) {
	remaining := 17
	provider := &fakeProvider{chatResp: plantid.ChatResponse{
		Messages: []plantid.ChatTurn{
			{Content: "What is it?", Type: "question"},
			{Content: "A fern.", Type: "answer"},
		},
		Identification:  []byte(`{"access_token":"tok-full"}`),
		RemainingCalls:  &remaining,
		ModelParameters: []byte(`{"temperature":0.5}`),
	}}
	a, _ := newTestApp(t, provider)

	answer, err := a.AskChat("tok-full", "What is it?", plantid.ChatRequest{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if string(answer.Identification) != `{"access_token":"tok-full"}` {
		t.Fatalf("identification = %s", answer.Identification)
	}
	if answer.RemainingCalls == nil || *answer.RemainingCalls != 17 {
		t.Fatalf("remaining calls = %v", answer.RemainingCalls)
	}
	if string(answer.ModelParameters) != `{"temperature":0.5}` {
		t.Fatalf("model parameters = %s", answer.ModelParameters)
	}
	// Turns without provider timestamps still come back dated like the
	// stored rows.
	for _, m := range answer.Messages {
		if m.CreatedAt.IsZero() {
			t.Fatalf("message %q has no timestamp", m.Content)
		}
	}
}

func TestChatHistoryOrdersQuestionBeforeAnswerOnTies(t *testing.T) {
	a, memStore := newTestApp(t, &fakeProvider{})
	ts := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	// Answer deliberately appended first.
	err := memStore.AppendChatMessages("tok-tie", []domain.ChatMessage{
		{Content: "The answer.", Type: domain.MessageAnswer, CreatedAt: ts},
		{Content: "The question?", Type: domain.MessageQuestion, CreatedAt: ts},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := a.GetChatHistory("tok-tie")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want 2", len(msgs))
	}
	if msgs[0].Type != domain.MessageQuestion {
		t.Fatalf("first message type = %q, want question on a timestamp tie", msgs[0].Type)
	}
}

func TestAskChatSurvivesStorageFailure(t *testing.T) {
	provider := &fakeProvider{chatResp: plantid.ChatResponse{Messages: []plantid.ChatTurn{
		{Content: "Q", Type: "question", Created: "2026-04-01T10:00:00Z"},
	}}}
	memStore := &failingChatStore{MemoryStore: mustMemoryStore()}
	a, err := New(Config{Store: memStore, Provider: provider})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	answer, err := a.AskChat("tok-x", "Q", plantid.ChatRequest{})
	if err != nil {
		t.Fatalf("ask should survive a persistence failure: %v", err)
	}
	if len(answer.Messages) != 1 {
		t.Fatalf("answer messages = %d, want 1", len(answer.Messages))
	}
}

func TestGetRemoteSnapshotDoesNotPersist(t *testing.T) {
	provider := &fakeProvider{chatResp: plantid.ChatResponse{Messages: []plantid.ChatTurn{
		{Content: "Q", Type: "question"},
		{Content: "A", Type: "answer"},
	}}}
	a, memStore := newTestApp(t, provider)

	snapshot, err := a.GetRemoteSnapshot("tok-snap")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot.Messages) != 2 {
		t.Fatalf("snapshot messages = %d, want 2", len(snapshot.Messages))
	}
	all, err := memStore.ListAllChatMessages()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("snapshot persisted %d messages, want 0", len(all))
	}
}

func TestParseCreated(t *testing.T) {
	if ts := parseCreated("2026-04-01T10:00:00Z"); ts.IsZero() || ts.Hour() != 10 {
		t.Fatalf("RFC 3339 parse = %v", ts)
	}
	ts := parseCreated("1767225600.25")
	if ts.IsZero() {
		t.Fatalf("unix float parse failed")
	}
	if ts.Unix() != 1767225600 {
		t.Fatalf("unix seconds = %d, want 1767225600", ts.Unix())
	}
	if !parseCreated("").IsZero() {
		t.Fatalf("empty string should parse to the zero time")
	}
	if !parseCreated("not-a-time").IsZero() {
		t.Fatalf("garbage should parse to the zero time")
	}
}

func TestMessagesFromTurnsSkipsUnknownTypes(t *testing.T) {
	msgs := messagesFromTurns("tok", []plantid.ChatTurn{
		{Content: "Q", Type: "question"},
		{Content: "trace", Type: "system"},
		{Content: "A", Type: "answer"},
	})
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want unknown types skipped", len(msgs))
	}
}

type failingChatStore struct {
	*store.MemoryStore
}

func (s *failingChatStore) AppendChatMessages(string, []domain.ChatMessage) error {
	return errors.New("chat table unavailable")
}
