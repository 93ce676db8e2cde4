// Package action scans classified messages for trigger tags and runs the
// remote tools bound to them, with a durable audit row per attempt.
package action

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/agent/tools"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
)

const maxRetriesReason = "Max retries exceeded"

// Config tunes one Agent.
type Config struct {
	MaxRetries        int
	ExtractionTimeout time.Duration
	Temperature       float64
}

// Agent runs the tag-triggered tool pipeline. Only explicit deletion of a
// message's audit rows resets its attempt counters.
type Agent struct {
	store    out.Store
	runner   out.InferenceRunner
	gateway  out.ToolGateway
	registry *tools.ActionRegistry
	cfg      Config
	log      zerolog.Logger
}

func NewAgent(store out.Store, runner out.InferenceRunner, gateway out.ToolGateway, registry *tools.ActionRegistry, cfg Config, log zerolog.Logger) *Agent {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = domain.MaxActionRetries
	}
	if cfg.ExtractionTimeout <= 0 {
		cfg.ExtractionTimeout = 60 * time.Second
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.2
	}
	return &Agent{
		store:    store,
		runner:   runner,
		gateway:  gateway,
		registry: registry,
		cfg:      cfg,
		log:      log.With().Str("component", "action").Logger(),
	}
}

// =============================================================================
// The pass
// =============================================================================

// Run scans the account's classified messages for registered trigger tags
// and processes each (message, action) pair once. It returns the number of
// audit rows written. An unreachable tool endpoint skips the whole pass with
// a warning instead of failing it.
func (a *Agent) Run(ctx context.Context, accountID string) (int, error) {
	if a.gateway == nil {
		return 0, nil
	}
	triggers := a.registry.Tags()
	if len(triggers) == 0 {
		return 0, nil
	}

	pairs, err := a.store.ListClassifiedWithTags(ctx, accountID, triggers)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, pair := range pairs {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		for _, tag := range pair.Classification.Tags {
			def := a.registry.Get(tag)
			if def == nil {
				continue
			}
			wrote, err := a.process(ctx, pair.Message, pair.Classification, def)
			if err != nil {
				if apperr.IsKind(err, apperr.KindTransport) {
					a.log.Warn().Err(err).Msg("tool endpoint unreachable, skipping action pass")
					return written, nil
				}
				return written, err
			}
			if wrote {
				written++
			}
		}
	}
	return written, nil
}

// process handles one (message, action) pair: attempt cap, tool presence,
// extraction, invocation, audit row. The returned error is reserved for
// conditions that end the whole pass; everything per-pair lands in the log
// row instead.
func (a *Agent) process(ctx context.Context, msg *domain.Message, c *domain.Classification, def *domain.ActionDefinition) (bool, error) {
	log := a.log.With().Str("message_id", msg.ID).Str("action", def.Tag).Logger()

	attempts, err := a.store.CountActionAttempts(ctx, msg.ID, def.Tag)
	if err != nil {
		log.Error().Err(err).Msg("cannot count action attempts")
		return false, nil
	}
	attempt := attempts + 1
	if attempt >= a.cfg.MaxRetries {
		return a.recordSkip(ctx, msg, def, attempts, maxRetriesReason, log)
	}

	available, err := a.gateway.HasTool(ctx, def.Server, def.Tool)
	if err != nil {
		return false, err
	}
	if !available {
		return a.recordSkip(ctx, msg, def, attempts,
			"tool "+def.Server+"/"+def.Tool+" not available", log)
	}

	extracted, err := a.extract(ctx, msg, def)
	if err != nil {
		log.Warn().Err(err).Int("attempt", attempt).Msg("extraction failed")
		return true, a.record(ctx, &domain.ActionLog{
			AccountID:  msg.AccountID,
			MessageID:  msg.ID,
			ActionName: def.Tag,
			Server:     def.Server,
			Tool:       def.Tool,
			Status:     domain.ActionStatusFailed,
			Error:      err.Error(),
			Attempts:   attempt,
		})
	}

	args := mergeArgs(def.DefaultArgs, extracted)
	result, err := a.gateway.CallTool(ctx, def.Server, def.Tool, args)
	if err != nil {
		log.Warn().Err(err).Int("attempt", attempt).Msg("tool call failed")
		return true, a.record(ctx, &domain.ActionLog{
			AccountID:  msg.AccountID,
			MessageID:  msg.ID,
			ActionName: def.Tag,
			Server:     def.Server,
			Tool:       def.Tool,
			Status:     domain.ActionStatusFailed,
			Extracted:  extracted,
			Error:      err.Error(),
			Attempts:   attempt,
		})
	}

	if err := a.record(ctx, &domain.ActionLog{
		AccountID:  msg.AccountID,
		MessageID:  msg.ID,
		ActionName: def.Tag,
		Server:     def.Server,
		Tool:       def.Tool,
		Status:     domain.ActionStatusSuccess,
		Extracted:  extracted,
		Result:     result,
		Attempts:   attempt,
	}); err != nil {
		return true, err
	}

	// The trigger tag comes off only after success so failed pairs stay
	// visible to the next pass.
	if err := a.store.UpdateClassificationTags(ctx, msg.ID, c.WithoutTag(def.Tag)); err != nil {
		log.Error().Err(err).Msg("cannot remove action tag after success")
	}
	log.Info().Str("tool", def.Server+"/"+def.Tool).Int("attempt", attempt).Msg("action succeeded")
	return true, nil
}

// =============================================================================
// Extraction
// =============================================================================

// extract runs the action's extraction prompt in JSON mode and returns the
// parsed object with null fields dropped. Anything that is not a JSON object
// fails the attempt.
func (a *Agent) extract(ctx context.Context, msg *domain.Message, def *domain.ActionDefinition) (map[string]any, error) {
	var b strings.Builder
	b.WriteString(def.ExtractionPrompt)
	b.WriteString("\n\nEmail:\nSubject: ")
	b.WriteString(msg.Subject)
	b.WriteString("\nFrom: ")
	b.WriteString(msg.From)
	b.WriteString("\nDate: ")
	b.WriteString(msg.Date.UTC().Format("2006-01-02 15:04"))
	b.WriteString("\nBody:\n")
	b.WriteString(truncateText(messageBody(msg), 4000))

	raw, err := a.runner.Generate(ctx, b.String(), out.GenerateOptions{
		Temperature: a.cfg.Temperature,
		Timeout:     a.cfg.ExtractionTimeout,
	})
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &fields); err != nil {
		return nil, apperr.Inference("extraction did not return a JSON object", err)
	}
	for k, v := range fields {
		if v == nil {
			delete(fields, k)
		}
	}
	return fields, nil
}

// =============================================================================
// Audit rows
// =============================================================================

func (a *Agent) record(ctx context.Context, row *domain.ActionLog) error {
	if err := a.store.SaveActionLog(ctx, row); err != nil {
		a.log.Error().Err(err).Str("message_id", row.MessageID).Msg("cannot save action log")
		return err
	}
	return nil
}

// recordSkip writes a skipped row unless the latest row for this action
// already says the same thing, so repeated passes do not pile up markers.
func (a *Agent) recordSkip(ctx context.Context, msg *domain.Message, def *domain.ActionDefinition, attempts int, reason string, log zerolog.Logger) (bool, error) {
	logs, err := a.store.ListActionLogs(ctx, msg.ID)
	if err == nil {
		for _, l := range logs { // newest first
			if l.ActionName != def.Tag {
				continue
			}
			if l.Status == domain.ActionStatusSkipped && l.Error == reason {
				return false, nil
			}
			break
		}
	}
	log.Info().Str("reason", reason).Msg("action skipped")
	return true, a.record(ctx, &domain.ActionLog{
		AccountID:  msg.AccountID,
		MessageID:  msg.ID,
		ActionName: def.Tag,
		Server:     def.Server,
		Tool:       def.Tool,
		Status:     domain.ActionStatusSkipped,
		Error:      reason,
		Attempts:   attempts,
	})
}

// =============================================================================
// Helpers
// =============================================================================

func mergeArgs(defaults, extracted map[string]any) map[string]any {
	args := make(map[string]any, len(defaults)+len(extracted))
	for k, v := range defaults {
		args[k] = v
	}
	for k, v := range extracted {
		args[k] = v
	}
	return args
}

func messageBody(msg *domain.Message) string {
	if msg.BodyText != "" {
		return msg.BodyText
	}
	return msg.Snippet
}

func cleanJSONResponse(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}

func truncateText(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
