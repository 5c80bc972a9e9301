package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/datalens/internal/gateway"
	"github.com/hyperjump/datalens/internal/metrics"
	"github.com/hyperjump/datalens/internal/models"
	"github.com/hyperjump/datalens/internal/normalize"
)

// Ask sends question, with the analysis' full conversation so far, to the
// analysis service and appends the answer as a new turn. Questions on the
// same analysis are handled one at a time so each sees the previous answer.
// A gateway failure is returned and leaves the analysis unchanged.
func (m *Machine) Ask(ctx context.Context, ownerID, analysisID, question string) (*models.ConversationTurn, error) {
	input := models.AskInput{Question: question}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if _, err := m.Get(ctx, ownerID, analysisID); err != nil {
		return nil, err
	}

	unlock, err := m.locker.Lock(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock analysis: %w", err)
	}
	defer unlock()

	// Reload under the lock so the history includes any turn appended while we waited.
	a, err := m.storage.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	ds, err := m.storage.GetDataSource(ctx, a.DataSourceID)
	if err != nil {
		return nil, err
	}

	raw, err := m.gateway.Ask(ctx, History(a.Conversations, input.Question), ds)
	if err != nil {
		metrics.QuestionsAsked.WithLabelValues(metrics.OutcomeError).Inc()
		m.logger.Warn("question failed", zap.String("analysis_id", analysisID), zap.Error(err))
		return nil, err
	}

	answer := normalize.Answer(raw.Body)
	turn := models.ConversationTurn{
		Question:  input.Question,
		Answer:    answer,
		Timestamp: m.now().UTC(),
	}
	if img := normalize.Image(answer, raw.Body); img != nil {
		turn.ImageURL = img.URL
	}
	if answer == "" {
		m.logger.Warn("empty answer from analysis service", zap.String("analysis_id", analysisID))
	}

	if err := m.storage.AppendConversationTurn(context.WithoutCancel(ctx), analysisID, turn); err != nil {
		return nil, fmt.Errorf("failed to store conversation turn: %w", err)
	}
	metrics.QuestionsAsked.WithLabelValues(metrics.OutcomeOK).Inc()
	m.logger.Debug("question answered",
		zap.String("analysis_id", analysisID),
		zap.Int("turns", len(a.Conversations)+1),
		zap.Bool("image", turn.ImageURL != ""))
	return &turn, nil
}

// History turns prior conversation turns into alternating user and assistant
// messages and appends question as the final user message.
func History(turns []models.ConversationTurn, question string) []gateway.ChatMessage {
	msgs := make([]gateway.ChatMessage, 0, 2*len(turns)+1)
	for _, t := range turns {
		msgs = append(msgs, gateway.UserMessage(t.Question), gateway.AssistantMessage(t.Answer))
	}
	return append(msgs, gateway.UserMessage(question))
}
