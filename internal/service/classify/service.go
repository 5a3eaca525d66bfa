package classify

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"inboxtriage/internal/model"
	"inboxtriage/pkg/circuitbreaker"
	"inboxtriage/pkg/metrics"
	"inboxtriage/pkg/otel"
	"inboxtriage/pkg/util"
)

const (
	categorizeTemperature  = 0.3
	unsubscribeTemperature = 0.1
	maxCompletionTokens    = 500
)

// Service classifies message content against a user's categories.
// Oracle failures never surface as errors; they degrade to keyword rules.
type Service struct {
	completer Completer
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
}

func NewService(completer Completer, logger *zap.Logger) *Service {
	cfg := circuitbreaker.DefaultConfig()
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("Oracle circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &Service{
		completer: completer,
		breaker:   circuitbreaker.NewCircuitBreaker(cfg),
		logger:    logger,
	}
}

// Categorize returns a classification for content. The only error it returns
// is the context's own error when ctx is done.
func (s *Service) Categorize(ctx context.Context, content string, categories []model.CategoryRef) (*model.ClassificationResult, error) {
	ctx, span := otel.StartSpan(ctx, "classify.categorize",
		attribute.Int("categories", len(categories)),
	)

	if len(categories) == 0 {
		otel.EndSpan(span, nil)
		return &model.ClassificationResult{Summary: noMatchSummary, Fallback: true}, nil
	}

	reply, err := s.complete(ctx, "categorize", CompletionRequest{
		System:      categorizeSystemPrompt,
		User:        buildCategorizePrompt(content, categories),
		Temperature: categorizeTemperature,
		MaxTokens:   maxCompletionTokens,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		otel.EndSpan(span, ctxErr)
		return nil, ctxErr
	}
	if err != nil {
		otel.EndSpan(span, nil)
		return s.fallback(content, categories, fallbackReason(err), err), nil
	}

	result, err := parseCategorization(reply, categories)
	if err != nil {
		otel.EndSpan(span, nil)
		return s.fallback(content, categories, "invalid_response", err), nil
	}

	span.SetAttributes(attribute.Float64("confidence", result.Confidence))
	otel.EndSpan(span, nil)
	return result, nil
}

// ExtractUnsubscribe asks the oracle for unsubscribe information. Any failure
// is reported as not found.
func (s *Service) ExtractUnsubscribe(ctx context.Context, content string) model.UnsubscribeInfo {
	ctx, span := otel.StartSpan(ctx, "classify.extract_unsubscribe")
	defer span.End()

	reply, err := s.complete(ctx, "unsubscribe", CompletionRequest{
		System:      unsubscribeSystemPrompt,
		User:        buildUnsubscribePrompt(content),
		Temperature: unsubscribeTemperature,
		MaxTokens:   maxCompletionTokens,
	})
	if err != nil {
		s.logger.Warn("Unsubscribe extraction failed", zap.Error(err))
		return model.UnsubscribeInfo{}
	}

	info, err := parseUnsubscribe(reply)
	if err != nil {
		s.logger.Warn("Unsubscribe extraction returned invalid response", zap.Error(err))
		return model.UnsubscribeInfo{}
	}
	return info
}

func (s *Service) complete(ctx context.Context, operation string, req CompletionRequest) (string, error) {
	start := time.Now()
	var reply string
	err := s.breaker.Execute(func() error {
		var callErr error
		reply, callErr = s.completer.Complete(ctx, req)
		return callErr
	})

	status := "success"
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
		status = "circuit_open"
	case err != nil:
		status = "error"
	}
	metrics.RecordOracleCallLatency(operation, status, time.Since(start))
	return reply, err
}

func (s *Service) fallback(content string, categories []model.CategoryRef, reason string, cause error) *model.ClassificationResult {
	metrics.IncrementClassificationFallback(reason)
	s.logger.Warn("Classification fell back to keyword rules",
		zap.String("reason", reason),
		zap.Error(cause),
	)
	return keywordFallback(content, categories)
}

func fallbackReason(err error) string {
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return "circuit_open"
	}
	if errors.Is(err, errEmptyCompletion) {
		return "invalid_response"
	}
	_, kind := util.ClassifyError(err)
	return kind
}
