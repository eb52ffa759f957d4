package llm

import (
	"context"
	"log/slog"
	"time"
)

// LoggingProvider records every completion call with slog.
type LoggingProvider struct {
	inner  Provider
	logger *slog.Logger
}

// WithLogging wraps a Provider with structured call logging.
func WithLogging(p Provider, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingProvider{inner: p, logger: logger}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)

	attrs := []any{
		"purpose", PurposeFrom(ctx),
		"model", l.inner.ModelID(),
		"latency_ms", time.Since(start).Milliseconds(),
		"success", err == nil,
	}
	if resp != nil {
		attrs = append(attrs,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
			"stop_reason", resp.StopReason,
		)
	}
	if err != nil {
		l.logger.Warn("Completion call failed", append(attrs, "error", err)...)
	} else {
		l.logger.Debug("Completion call", attrs...)
	}

	return resp, err
}

func (l *LoggingProvider) ModelID() string {
	return l.inner.ModelID()
}
