package safety

import (
	"context"

	"codeberg.org/mutker/inferctl/internal/errors"
	"github.com/grafana/regexp"
)

type rule struct {
	re *regexp.Regexp
}

// PatternChecker rejects text matching any configured pattern.
type PatternChecker struct {
	input  []rule
	output []rule
}

// NewPatternChecker compiles the configured patterns.
func NewPatternChecker(cfg Config) (*PatternChecker, error) {
	in, err := compile(cfg.InputPatterns)
	if err != nil {
		return nil, err
	}
	out, err := compile(cfg.OutputPatterns)
	if err != nil {
		return nil, err
	}
	return &PatternChecker{input: in, output: out}, nil
}

func compile(patterns []string) ([]rule, error) {
	errFactory := errors.New()

	rules := make([]rule, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errFactory.Wrap(ErrInvalidPattern, err).WithData(p)
		}
		rules = append(rules, rule{re: re})
	}
	return rules, nil
}

func (c *PatternChecker) CheckInput(ctx context.Context, text string) Verdict {
	return check(ctx, c.input, text)
}

func (c *PatternChecker) CheckOutput(ctx context.Context, text string) Verdict {
	return check(ctx, c.output, text)
}

func check(ctx context.Context, rules []rule, text string) Verdict {
	for _, r := range rules {
		if ctx.Err() != nil {
			return Verdict{Reason: "check cancelled"}
		}
		if m := r.re.FindString(text); m != "" {
			return Verdict{Reason: "matched " + r.re.String()}
		}
	}
	return Safe
}
