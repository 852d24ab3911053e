// Package conversation runs single, dual and consensus dialogues between
// model backends and turns the replies into metrics.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/agentarena/api/internal/domain"
	"github.com/agentarena/api/internal/model"
)

var (
	ErrUnknownExperimentType = errors.New("unknown experiment type")
	ErrUnknownModel          = errors.New("no backend available for model")
	ErrNotEnoughModels       = errors.New("not enough models for experiment type")
)

// DefaultMaxTurns is used when a request leaves MaxTurns unset.
const DefaultMaxTurns = 3

// lastContextTurn is the turn first_and_last_turn treats as "last".
// It is a fixed literal and does not follow MaxTurns.
const lastContextTurn = 3

// Backend is one model provider.
type Backend interface {
	Invoke(ctx context.Context, system, user string) (string, error)
}

// BackendResolver maps a model identifier to its backend.
type BackendResolver interface {
	Backend(model string) (Backend, bool)
}

var identities = map[string]string{
	"claude":   "Claude (Anthropic)",
	"openai":   "ChatGPT (OpenAI)",
	"gemini":   "Gemini (Google)",
	"together": "Exaone (Together AI)",
}

// Identity returns the display identity used in prompts.
func Identity(m string) string {
	if id, ok := identities[m]; ok {
		return id
	}
	return m
}

// Request describes one conversation over one dataset item.
type Request struct {
	ArticleID   string
	Text        string
	Models      []string
	Type        model.ExperimentType
	Adversarial bool
	Strategy    model.ContextStrategy
	MaxTurns    int
	// Prompts overrides the engine's catalogue, typically with a domain's set.
	Prompts domain.Prompts
}

// Engine drives conversations. It holds no per-conversation state.
type Engine struct {
	backends BackendResolver
	prompts  domain.Prompts
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an engine using prompts as the default catalogue.
func NewEngine(backends BackendResolver, prompts domain.Prompts, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		backends: backends,
		prompts:  prompts,
		logger:   logger,
		now:      time.Now,
	}
}

// participant is a model seat in a conversation. Seats are positional so the
// same provider can appear twice.
type participant struct {
	model     string
	backend   Backend
	adversary bool
}

// Run executes the conversation. Backend failures are recorded in-band;
// only configuration problems return an error.
func (e *Engine) Run(ctx context.Context, req Request) (*model.ConversationResult, error) {
	prompts := req.Prompts
	if prompts == nil {
		prompts = e.prompts
	}

	var seats int
	switch req.Type {
	case model.ExperimentTypeSingle:
		seats = 1
	case model.ExperimentTypeDual:
		seats = 2
	case model.ExperimentTypeConsensus:
		seats = 3
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExperimentType, req.Type)
	}
	if len(req.Models) < seats {
		return nil, fmt.Errorf("%w: %s needs %d, got %d", ErrNotEnoughModels, req.Type, seats, len(req.Models))
	}

	parts := make([]participant, seats)
	for i, m := range req.Models[:seats] {
		b, ok := e.backends.Backend(m)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModel, m)
		}
		parts[i] = participant{model: m, backend: b}
	}

	if req.Type == model.ExperimentTypeSingle {
		return e.runSingle(ctx, req, prompts, parts[0])
	}

	if req.Adversarial {
		// Dual: the second seat. Consensus: the first seat.
		if req.Type == model.ExperimentTypeDual {
			parts[1].adversary = true
		} else {
			parts[0].adversary = true
		}
	}
	return e.runRounds(ctx, req, prompts, parts)
}

func (e *Engine) runSingle(ctx context.Context, req Request, prompts domain.Prompts, p participant) (*model.ConversationResult, error) {
	reply := e.invoke(ctx, p, prompts[domain.PromptSingle], "Article to analyze:\n"+req.Text)
	metrics := ParseReply(reply, SingleFields)

	turn := model.ConversationTurn{
		TurnNumber: 1,
		Model:      p.model,
		Response:   reply.Text(),
		Metrics:    metrics,
		Timestamp:  e.now(),
	}

	return &model.ConversationResult{
		ArticleID:       req.ArticleID,
		ExperimentType:  model.ExperimentTypeSingle,
		Models:          []string{p.model},
		Adversarial:     false,
		Turns:           []model.ConversationTurn{turn},
		FinalMetrics:    metrics,
		AgreementScores: map[string]float64{},
		InfluenceScores: map[string]float64{},
	}, nil
}

func (e *Engine) runRounds(ctx context.Context, req Request, prompts domain.Prompts, parts []participant) (*model.ConversationResult, error) {
	maxTurns := req.MaxTurns
	if maxTurns < 1 {
		maxTurns = DefaultMaxTurns
	}

	models := make([]string, len(parts))
	for i, p := range parts {
		models[i] = p.model
	}

	e.logger.Debug("starting conversation",
		"type", req.Type, "models", models, "turns", maxTurns, "adversarial", req.Adversarial)

	var (
		turns   []model.ConversationTurn
		history []string
	)
	for turnNum := 1; turnNum <= maxTurns; turnNum++ {
		final := turnNum == maxTurns
		for i, p := range parts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			system := e.systemPrompt(req.Type, prompts, parts, i, final, req.Adversarial)
			user := userMessage(prompts, req.Text, turnNum, req.Strategy, history)

			reply := e.invoke(ctx, p, system, user)
			turns = append(turns, model.ConversationTurn{
				TurnNumber:  turnNum,
				Model:       p.model,
				IsAdversary: p.adversary,
				Response:    reply.Text(),
				Metrics:     ParseReply(reply, FieldsFor(final, req.Adversarial)),
				Timestamp:   e.now(),
			})
			history = append(history, p.model+": "+reply.Text())

			e.logger.Debug("turn completed", "turn", turnNum, "model", p.model, "adversary", p.adversary)
		}
	}

	final, agreement, influence := aggregate(turns)
	return &model.ConversationResult{
		ArticleID:       req.ArticleID,
		ExperimentType:  req.Type,
		Models:          models,
		Adversarial:     req.Adversarial,
		Turns:           turns,
		FinalMetrics:    final,
		AgreementScores: agreement,
		InfluenceScores: influence,
	}, nil
}

func (e *Engine) invoke(ctx context.Context, p participant, system, user string) Reply {
	text, err := p.backend.Invoke(ctx, system, user)
	if err != nil {
		e.logger.Warn("model call failed", "model", p.model, "error", err)
		return Failed(err)
	}
	return Succeeded(text)
}

// systemPrompt builds identity framing, optional secret instructions and the
// format block for seat i.
func (e *Engine) systemPrompt(typ model.ExperimentType, prompts domain.Prompts, parts []participant, i int, final, adversarial bool) string {
	self := parts[i]
	var partners []string
	for j, p := range parts {
		if j != i {
			partners = append(partners, Identity(p.model))
		}
	}

	var base, format string
	if typ == model.ExperimentTypeDual {
		base = prompts.Render(domain.PromptDualBase, map[string]string{
			"model_identity":   Identity(self.model),
			"partner_identity": partners[0],
		})
		switch {
		case final && adversarial && self.adversary:
			format = prompts[domain.PromptAdversarialFinal]
		case final && adversarial:
			format = prompts[domain.PromptAdversarialStandardFinal]
		case final:
			format = prompts[domain.PromptDualFinal]
		case adversarial:
			format = prompts[domain.PromptAdversarialInterim]
		default:
			format = prompts[domain.PromptDualInterim]
		}
	} else {
		base = prompts.Render(domain.PromptConsensusBase, map[string]string{
			"model_identity":    Identity(self.model),
			"partner1_identity": partners[0],
			"partner2_identity": partners[1],
		})
		switch {
		case final && adversarial:
			format = prompts[domain.PromptAdversarialFinal]
		case final:
			format = prompts[domain.PromptConsensusFinal]
		case adversarial:
			format = prompts[domain.PromptAdversarialInterim]
		default:
			format = prompts[domain.PromptConsensusInterim]
		}
	}

	if self.adversary {
		base += "\n\n" + prompts[domain.PromptAdversarialSecret]
	}
	return base + "\n\n" + format
}

// includeArticle reports whether the source text is repeated on this turn.
func includeArticle(strategy model.ContextStrategy, turn int) bool {
	switch strategy {
	case model.ContextFirstTurnOnly:
		return turn == 1
	case model.ContextAllTurns:
		return true
	case model.ContextFirstAndLastTurn:
		// TODO: compare against MaxTurns once existing result sets no longer
		// need to be reproduced; the literal 3 matches the default turn count only.
		return turn == 1 || turn == lastContextTurn
	}
	return false
}

func userMessage(prompts domain.Prompts, text string, turn int, strategy model.ContextStrategy, history []string) string {
	if turn == 1 {
		return prompts.Render(domain.PromptRoundOne, map[string]string{"article_text": text})
	}

	var b strings.Builder
	b.WriteString(prompts.Render(domain.PromptSubsequentRound, map[string]string{"round_num": strconv.Itoa(turn)}))
	if len(history) > 0 {
		b.WriteString("\n\nConversation history:\n")
		b.WriteString(strings.Join(history, "\n\n"))
	}
	if includeArticle(strategy, turn) {
		b.WriteString("\n\nArticle to analyze:\n")
		b.WriteString(text)
	}
	return b.String()
}

// aggregate namespaces each model's last-round metrics and collects the
// agreement and influence scores.
func aggregate(turns []model.ConversationTurn) (map[string]interface{}, map[string]float64, map[string]float64) {
	final := make(map[string]interface{})
	agreement := make(map[string]float64)
	influence := make(map[string]float64)

	last := 0
	for _, t := range turns {
		if t.TurnNumber > last {
			last = t.TurnNumber
		}
	}

	for _, t := range turns {
		if t.TurnNumber != last {
			continue
		}
		for k, v := range t.Metrics {
			if k == FieldFullResponse {
				continue
			}
			final[t.Model+"_"+k] = v
		}
		agreement[t.Model] = floatMetric(t.Metrics, FieldAgreementScore)
		influence[t.Model] = floatMetric(t.Metrics, FieldInfluenceScore)
	}
	return final, agreement, influence
}

func floatMetric(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0.0
}
