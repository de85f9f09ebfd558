package reasoner

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/fault"
	"github.com/neverdownhq/neverdown/internal/llm"
	"github.com/neverdownhq/neverdown/internal/model"
)

// Reasoner drives the model conversation and turns its reply into a Patch.
type Reasoner struct {
	provider llm.Provider
	prompts  *PromptBuilder

	maxRetries          int
	confidenceThreshold float64
	maxTokens           int
	temperature         float64

	logger *log.Logger
}

// Option configures a Reasoner.
type Option func(*Reasoner)

// WithLogger attaches a logger. A nil logger stays silent.
func WithLogger(l *log.Logger) Option {
	return func(r *Reasoner) { r.logger = l }
}

// New builds a Reasoner from the configured provider and limits.
func New(provider llm.Provider, llmCfg config.LLMConfig, cfg config.ReasonerConfig, opts ...Option) *Reasoner {
	r := &Reasoner{
		provider:            provider,
		prompts:             NewPromptBuilder(cfg.MaxCodeLines),
		maxRetries:          cfg.MaxRetries,
		confidenceThreshold: cfg.ConfidenceThreshold,
		maxTokens:           llmCfg.MaxTokens,
		temperature:         llmCfg.Temperature,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Propose runs the analyze-parse-validate loop against the sanitized tree at
// treePath. Malformed replies are retried up to the configured maximum, each
// retry quoting the failing attempt. A reply whose confidence falls below the
// threshold is never retried; it is a final low_confidence failure.
func (r *Reasoner) Propose(ctx context.Context, report *model.DetectiveReport, treePath string) (*model.Patch, error) {
	original, err := r.prompts.Build(report, treePath)
	if err != nil {
		return nil, fault.Wrap(fault.CodeReasonerError, err, "prompt construction failed")
	}

	var usage model.TokenUsage
	user := original
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.logf("retrying analysis", "incident", report.IncidentID, "attempt", attempt, "reason", lastErr)
		}

		resp, callErr := r.provider.Chat(ctx, llm.Request{
			System:      r.prompts.SystemPrompt(),
			User:        user,
			MaxTokens:   r.maxTokens,
			Temperature: r.temperature,
		})
		if callErr != nil {
			// Transport and breaker failures are not reply defects; a retry
			// with a reworded prompt cannot fix them.
			return nil, callErr
		}
		usage.Input += resp.Usage.Input
		usage.Output += resp.Usage.Output

		reply, parseErr := parseReply(resp.Content)
		if parseErr != nil {
			lastErr = parseErr
			user, err = r.prompts.BuildRetry(original, resp.Content, parseErr.Error())
			if err != nil {
				return nil, fault.Wrap(fault.CodeReasonerError, err, "retry prompt construction failed")
			}
			continue
		}

		if reply.Confidence < r.confidenceThreshold {
			return nil, fault.New(fault.CodeLowConfidence,
				"model confidence %.2f is below the %.2f threshold", reply.Confidence, r.confidenceThreshold).
				WithDetail("confidence", reply.Confidence).
				WithDetail("threshold", r.confidenceThreshold).
				WithDetail("root_cause", reply.RootCause)
		}

		files, checkErr := validateDiff(reply.Diff, treePath)
		if checkErr != nil {
			lastErr = checkErr
			user, err = r.prompts.BuildRetry(original, resp.Content, checkErr.Error())
			if err != nil {
				return nil, fault.Wrap(fault.CodeReasonerError, err, "retry prompt construction failed")
			}
			continue
		}

		patch := &model.Patch{
			ID:          uuid.New(),
			IncidentID:  report.IncidentID,
			Diff:        reply.Diff,
			RootCause:   reply.RootCause,
			Reasoning:   reply.Explanation,
			Confidence:  reply.Confidence,
			Assumptions: reply.Assumptions,
			Risks:       reply.Risks,
			Files:       files,
			TokenUsage:  usage,
			Retries:     attempt,
			CreatedAt:   time.Now().UTC(),
		}
		r.logf("patch proposed", "incident", report.IncidentID,
			"files", len(files), "confidence", reply.Confidence, "retries", attempt)
		return patch, nil
	}

	return nil, fault.Wrap(fault.CodeReasonerError, lastErr,
		"no usable patch after %d attempts", r.maxRetries+1)
}

func (r *Reasoner) logf(msg string, kv ...any) {
	if r.logger != nil {
		r.logger.Info(msg, kv...)
	}
}
