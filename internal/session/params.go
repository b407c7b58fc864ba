package session

import (
	"strings"

	"codeberg.org/mutker/inferctl/internal/engine"
	"codeberg.org/mutker/inferctl/internal/thermal"
)

// estimateTokens approximates a token count at four characters per token.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return max(1, (len(s)+3)/4)
}

// adapt merges caller params over the defaults and applies the thermal
// limits of state.
func adapt(cfg Config, p Params, state thermal.State) engine.GenerateParams {
	d := cfg.Defaults
	gp := engine.GenerateParams{
		MaxTokens:     pick(p.MaxTokens, d.MaxTokens),
		Temperature:   pickf(p.Temperature, d.Temperature),
		TopK:          pick(p.TopK, d.TopK),
		TopP:          pickf(p.TopP, d.TopP),
		RepeatPenalty: pickf(p.RepeatPenalty, d.RepeatPenalty),
		Seed:          cfg.Seed,
		Stop:          p.Stop,
	}

	switch state {
	case thermal.StateCritical:
		gp.MaxTokens = min(gp.MaxTokens, cfg.CriticalMaxTokens)
		gp.Temperature = cfg.CriticalTemperature
	case thermal.StateHot:
		gp.MaxTokens = max(1, gp.MaxTokens/2)
		gp.Temperature *= cfg.HotTemperatureFactor
	}
	return gp
}

func pick(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func pickf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// buildPrompt renders the conversation as a plain chat transcript.
func buildPrompt(system string, history []Exchange, prompt string) string {
	var b strings.Builder
	if system != "" {
		b.WriteString("System: ")
		b.WriteString(system)
		b.WriteString("\n")
	}
	for _, e := range history {
		b.WriteString("User: ")
		b.WriteString(e.Prompt)
		b.WriteString("\nAssistant: ")
		b.WriteString(e.Response)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(prompt)
	b.WriteString("\nAssistant:")
	return b.String()
}
