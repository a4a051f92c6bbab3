package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"github.com/civitas311/backend/internal/ai"
	"github.com/civitas311/backend/internal/models"
)

// TicketStore is the mutation surface the engine needs around a dispatch:
// reading the ticket snapshot and atomically applying the final decision.
type TicketStore interface {
	GetTicket(ctx context.Context, id string) (models.Ticket, error)
	ApplyDecision(ctx context.Context, ticketID string, dec models.DispatchDecision) error
}

// Engine drives one model conversation per ticket: prompt, tool turns,
// validated final answer, atomic apply.
type Engine struct {
	Model    ai.Client
	Registry *Registry
	Tickets  TicketStore
	Logger   zerolog.Logger

	MaxTurns     int
	ModelTimeout time.Duration
	MaxRetries   int
}

type loopState int

const (
	stateAwaitingModel loopState = iota
	stateExecutingTools
	stateDone
)

// Dispatch runs the full dispatch cycle for a ticket. On success the decision
// has already been applied to storage. On any error nothing has been mutated.
func (e *Engine) Dispatch(ctx context.Context, ticketID string) (models.DispatchDecision, error) {
	var dec models.DispatchDecision

	ticket, err := e.Tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return dec, err
	}

	log := e.Logger.With().Str("ticket_id", ticketID).Logger()
	log.Info().Msg("dispatch started")

	transcript := []ai.Message{{Role: ai.RoleUser, Text: buildPrompt(ticket)}}
	tools := e.Registry.Definitions()

	var seenIDs []string
	correctionsLeft := 1
	state := stateAwaitingModel
	var turn ai.Turn

	for turns := 0; state != stateDone; {
		switch state {
		case stateAwaitingModel:
			turns++
			if turns > e.MaxTurns {
				log.Warn().Int("turns", turns-1).Msg("dispatch exceeded turn budget")
				return dec, ErrTurnLimitExceeded
			}
			turn, err = e.chatWithRetry(ctx, transcript, tools)
			if err != nil {
				return dec, err
			}
			transcript = append(transcript, ai.Message{
				Role:      ai.RoleAssistant,
				Text:      turn.Text,
				ToolCalls: turn.ToolCalls,
			})
			if turn.WantsTools() {
				state = stateExecutingTools
				break
			}

			dec, err = ParseDecision(turn.Text, seenIDs)
			if err == nil {
				state = stateDone
				break
			}
			if correctionsLeft == 0 {
				log.Warn().Err(err).Msg("dispatch output rejected")
				return models.DispatchDecision{}, err
			}
			correctionsLeft--
			log.Info().Err(err).Msg("dispatch output rejected, asking model to correct")
			transcript = append(transcript, ai.Message{
				Role: ai.RoleUser,
				Text: fmt.Sprintf(correctiveDirective, err.Error()),
			})

		case stateExecutingTools:
			calls := turn.ToolCalls
			log.Debug().Int("calls", len(calls)).Msg("executing tool calls")
			results, ids := e.Registry.ExecuteAll(ctx, calls)
			seenIDs = append(seenIDs, ids...)
			transcript = append(transcript, ai.Message{
				Role:        ai.RoleUser,
				ToolResults: results,
			})
			state = stateAwaitingModel
		}
	}

	if err := ctx.Err(); err != nil {
		return models.DispatchDecision{}, err
	}

	// The caller disconnecting must not leave a half-applied decision.
	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := e.Tickets.ApplyDecision(applyCtx, ticketID, dec); err != nil {
		return models.DispatchDecision{}, err
	}

	log.Info().
		Str("priority", dec.Priority).
		Int("crew_assignees", len(dec.CrewAssignees)).
		Int("user_assignees", len(dec.UserAssignees)).
		Int("labels", len(dec.Labels)).
		Msg("dispatch applied")
	return dec, nil
}

// chatWithRetry makes one model request under the per-call timeout, retrying
// transient transport failures up to MaxRetries with linear backoff.
func (e *Engine) chatWithRetry(ctx context.Context, transcript []ai.Message, tools []llms.Tool) (ai.Turn, error) {
	var lastErr error
	for attempt := 0; attempt <= e.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ai.Turn{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.ModelTimeout)
		turn, err := e.Model.Chat(callCtx, systemDirective, transcript, tools)
		cancel()
		if err == nil {
			return turn, nil
		}
		lastErr = err
		if !ai.IsTransient(err) || ctx.Err() != nil {
			break
		}
		e.Logger.Warn().Err(err).Int("attempt", attempt+1).Msg("model request failed, retrying")
	}
	return ai.Turn{}, lastErr
}
