package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/datalens/internal/apperrors"
	"github.com/hyperjump/datalens/internal/gateway"
	"github.com/hyperjump/datalens/internal/models"
)

func echoChat(history []gateway.ChatMessage) (json.RawMessage, error) {
	last := history[len(history)-1].Content
	body, _ := json.Marshal(map[string]any{
		"messages": []map[string]string{
			{"type": "human", "content": last},
			{"type": "ai", "content": "answer to " + last},
		},
	})
	return body, nil
}

func completedAnalysis(t *testing.T, m *Machine, owner string) *models.Analysis {
	t.Helper()
	ds, a := seed(t, m.storage, owner)
	require.NoError(t, m.Run(context.Background(), ds.ID, a.ID))
	return a
}

func TestAsk_appendsTurn(t *testing.T) {
	store := newStore(t)
	gw := &fakeGateway{
		upload:   json.RawMessage(`{}`),
		generate: json.RawMessage(`{}`),
		chat: func(history []gateway.ChatMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"messages":[{"type":"ai","content":"Here you go\n![chart](data:image/png;base64,AAAA)"}],"imageUrl":"https://img/other.png"}`), nil
		},
	}
	m := NewMachine(store, gw)
	a := completedAnalysis(t, m, "alice")

	turn, err := m.Ask(context.Background(), "alice", a.ID, "  show me a chart  ")
	require.NoError(t, err)
	assert.Equal(t, "show me a chart", turn.Question)
	assert.Contains(t, turn.Answer, "Here you go")
	assert.Equal(t, "data:image/png;base64,AAAA", turn.ImageURL)
	assert.False(t, turn.Timestamp.IsZero())

	turn2, err := m.Ask(context.Background(), "alice", a.ID, "and again?")
	require.NoError(t, err)
	assert.Equal(t, "and again?", turn2.Question)

	require.Len(t, gw.histories, 2)
	assert.Equal(t, []gateway.ChatMessage{
		gateway.UserMessage("show me a chart"),
		gateway.AssistantMessage(turn.Answer),
		gateway.UserMessage("and again?"),
	}, gw.histories[1])

	got := mustGet(t, m, "alice", a.ID)
	require.Len(t, got.Conversations, 2)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestAsk_concurrentQuestionsAllPersisted(t *testing.T) {
	store := newStore(t)
	gw := &fakeGateway{upload: json.RawMessage(`{}`), generate: json.RawMessage(`{}`), chat: echoChat}
	m := NewMachine(store, gw)
	a := completedAnalysis(t, m, "alice")

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Ask(context.Background(), "alice", a.ID, fmt.Sprintf("question %d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got := mustGet(t, m, "alice", a.ID)
	require.Len(t, got.Conversations, n)
	seen := make(map[string]bool)
	for _, turn := range got.Conversations {
		seen[turn.Question] = true
		assert.Equal(t, "answer to "+turn.Question, turn.Answer)
	}
	assert.Len(t, seen, n)

	// Serialized asks each see every earlier turn.
	lengths := make([]int, 0, n)
	for _, h := range gw.histories {
		lengths = append(lengths, len(h))
	}
	sort.Ints(lengths)
	for i, l := range lengths {
		assert.Equal(t, 2*i+1, l)
	}
}

func TestAsk_gatewayErrorLeavesAnalysisUnchanged(t *testing.T) {
	store := newStore(t)
	gw := &fakeGateway{
		upload:   json.RawMessage(`{}`),
		generate: json.RawMessage(`{}`),
		chat: func([]gateway.ChatMessage) (json.RawMessage, error) {
			return nil, &apperrors.GatewayError{Op: gateway.OpChat, Kind: apperrors.GatewayTimeout, Detail: "no response within 1m0s"}
		},
	}
	m := NewMachine(store, gw)
	a := completedAnalysis(t, m, "alice")

	_, err := m.Ask(context.Background(), "alice", a.ID, "why?")
	_, ok := apperrors.AsGateway(err)
	require.True(t, ok, "got %v", err)

	got := mustGet(t, m, "alice", a.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Empty(t, got.Conversations)
	assert.Empty(t, got.ErrorMessage)
}

func TestAsk_rejectsBadInput(t *testing.T) {
	store := newStore(t)
	gw := &fakeGateway{upload: json.RawMessage(`{}`), generate: json.RawMessage(`{}`), chat: echoChat}
	m := NewMachine(store, gw)
	a := completedAnalysis(t, m, "alice")
	ctx := context.Background()

	_, err := m.Ask(ctx, "alice", a.ID, "   ")
	assert.True(t, apperrors.IsValidation(err))

	_, err = m.Ask(ctx, "alice", "missing", "q")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = m.Ask(ctx, "mallory", a.ID, "q")
	assert.True(t, apperrors.IsNotFound(err))

	assert.Empty(t, gw.histories)
}

func TestHistory(t *testing.T) {
	turns := []models.ConversationTurn{{Question: "q1", Answer: "a1"}}
	got := History(turns, "q2")
	assert.Equal(t, []gateway.ChatMessage{
		{Role: "user", Type: "human", Content: "q1"},
		{Role: "assistant", Type: "ai", Content: "a1"},
		{Role: "user", Type: "human", Content: "q2"},
	}, got)
}
