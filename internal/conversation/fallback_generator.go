package conversation

import (
	"context"

	"github.com/wolfman30/propreach/pkg/logging"
)

// FallbackGenerator tries primary first and fallback when primary fails.
type FallbackGenerator struct {
	primary  Generator
	fallback Generator
	logger   *logging.Logger
}

// NewFallbackGenerator wraps primary. A nil fallback disables the second attempt.
func NewFallbackGenerator(primary, fallback Generator, logger *logging.Logger) *FallbackGenerator {
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackGenerator{primary: primary, fallback: fallback, logger: logger}
}

var _ Generator = (*FallbackGenerator)(nil)

func (g *FallbackGenerator) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	out, err := g.primary.Generate(ctx, req)
	if err == nil {
		return out, nil
	}
	g.logger.Warn("primary generator failed, attempting fallback",
		"error", err.Error(),
		"fallback_available", g.fallback != nil,
	)
	if g.fallback == nil {
		return Generation{}, err
	}
	out, fbErr := g.fallback.Generate(ctx, req)
	if fbErr != nil {
		g.logger.Error("fallback generator also failed",
			"primary_error", err.Error(),
			"fallback_error", fbErr.Error(),
		)
		return Generation{}, fbErr
	}
	return out, nil
}
