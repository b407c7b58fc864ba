package scheduler

import (
	"codeberg.org/mutker/inferctl/internal/device"
	"codeberg.org/mutker/inferctl/internal/thermal"
)

// Strategy is a named execution plan.
type Strategy int

const (
	StrategyMinimal Strategy = iota
	StrategyConservative
	StrategyMemoryOptimized
	StrategyBalanced
	StrategyAggressive
)

func (s Strategy) String() string {
	switch s {
	case StrategyMinimal:
		return "minimal"
	case StrategyConservative:
		return "conservative"
	case StrategyMemoryOptimized:
		return "memory_optimized"
	case StrategyBalanced:
		return "balanced"
	case StrategyAggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// Precision is the numeric format used for weights and activations.
type Precision int

const (
	PrecisionFP32 Precision = iota
	PrecisionFP16
	PrecisionINT8
)

func (p Precision) String() string {
	switch p {
	case PrecisionFP32:
		return "fp32"
	case PrecisionFP16:
		return "fp16"
	case PrecisionINT8:
		return "int8"
	default:
		return "unknown"
	}
}

// Task describes the size of one generation request.
type Task struct {
	PromptTokens int
	MaxTokens    int
}

// Inputs is everything Optimize depends on.
type Inputs struct {
	Mode                Mode
	Thermal             thermal.State
	Profile             device.Profile
	MemoryPressure      float64
	MemoryPressureRatio float64
	Aggressive          bool
}

// Optimization is the recommended execution plan for one request.
type Optimization struct {
	Strategy          Strategy
	Threads           int
	BatchSize         int
	Precision         Precision
	UseAccelerator    bool
	EstimatedLatency  float64 // milliseconds
	EstimatedMemoryMB float64
	ThermalImpact     float64 // 0..1
}

// Rule maps a predicate over Inputs to a Strategy. Rules are evaluated in
// order; the first match wins.
type Rule struct {
	Name     string
	Match    func(Inputs) bool
	Strategy Strategy
}

// DefaultRules returns the strategy precedence table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "thermal_critical",
			Match:    func(in Inputs) bool { return in.Thermal == thermal.StateCritical },
			Strategy: StrategyMinimal,
		},
		{
			Name:     "thermal_hot",
			Match:    func(in Inputs) bool { return in.Thermal == thermal.StateHot },
			Strategy: StrategyConservative,
		},
		{
			Name:     "memory_pressure",
			Match:    func(in Inputs) bool { return in.MemoryPressure > in.MemoryPressureRatio },
			Strategy: StrategyMemoryOptimized,
		},
		{
			Name:     "maximum_mode",
			Match:    func(in Inputs) bool { return in.Mode == ModeMaximum },
			Strategy: StrategyAggressive,
		},
	}
}

var defaultRules = DefaultRules()

// SelectStrategy walks rules and falls back to BALANCED.
func SelectStrategy(rules []Rule, in Inputs) Strategy {
	for _, r := range rules {
		if r.Match(in) {
			return r.Strategy
		}
	}
	return StrategyBalanced
}

// per-token decode cost on one default thread set, by device class
var msPerToken = map[device.Class]float64{
	device.ClassBudget:   120,
	device.ClassMidRange: 80,
	device.ClassHigh:     50,
	device.ClassFlagship: 30,
}

const (
	promptCostFactor  = 0.25 // prompt tokens are batched
	acceleratorFactor = 0.5
	kvKBPerTokenFP32  = 512.0
	maxThermalImpact  = 1.0
)

// Optimize computes the plan for task under in using the default rules. It
// has no side effects.
func Optimize(in Inputs, task Task) Optimization {
	return OptimizeWith(defaultRules, in, task)
}

func OptimizeWith(rules []Rule, in Inputs, task Task) Optimization {
	p := in.Profile
	def := device.DefaultInferenceThreads(p)
	strategy := SelectStrategy(rules, in)

	o := Optimization{Strategy: strategy}
	switch strategy {
	case StrategyMinimal:
		o.Threads = 1
		o.BatchSize = 32
		o.Precision = PrecisionINT8
	case StrategyConservative:
		o.Threads = max(1, def/2)
		o.BatchSize = 64
		o.Precision = PrecisionINT8
	case StrategyMemoryOptimized:
		o.Threads = max(1, def/2)
		o.BatchSize = 64
		o.Precision = PrecisionINT8
		o.UseAccelerator = p.HasAccelerator()
	case StrategyAggressive:
		o.Threads = max(1, p.Cores)
		o.BatchSize = 256
		o.Precision = PrecisionFP32
		if p.Has(device.CapFP16) {
			o.Precision = PrecisionFP16
		}
		o.UseAccelerator = p.HasAccelerator()
	default:
		o.Threads = ModeThreads(p, in.Mode)
		o.BatchSize = 128
		o.Precision = PrecisionINT8
		if p.Has(device.CapFP16) {
			o.Precision = PrecisionFP16
		}
		o.UseAccelerator = p.HasAccelerator()
	}

	if in.Aggressive && strategy != StrategyMinimal {
		o.BatchSize = max(32, o.BatchSize/2)
		o.Precision = PrecisionINT8
	}

	o.EstimatedLatency = estimateLatency(p, o, in.Thermal, task, def)
	o.EstimatedMemoryMB = estimateMemoryMB(o, task)
	o.ThermalImpact = estimateThermalImpact(o)

	return o
}

func precisionFactor(p Precision) float64 {
	switch p {
	case PrecisionFP16:
		return 0.7
	case PrecisionINT8:
		return 0.5
	default:
		return 1
	}
}

func thermalPenalty(s thermal.State) float64 {
	switch s {
	case thermal.StateWarm:
		return 1.1
	case thermal.StateHot:
		return 1.3
	case thermal.StateCritical:
		return 1.6
	default:
		return 1
	}
}

func estimateLatency(p device.Profile, o Optimization, s thermal.State, task Task, defThreads int) float64 {
	perToken, ok := msPerToken[p.Class]
	if !ok {
		perToken = msPerToken[device.ClassBudget]
	}
	tokens := float64(max(0, task.MaxTokens)) + promptCostFactor*float64(max(0, task.PromptTokens))
	ms := tokens * perToken * precisionFactor(o.Precision) * thermalPenalty(s)
	ms *= float64(defThreads) / float64(max(1, o.Threads))
	if o.UseAccelerator {
		ms *= acceleratorFactor
	}
	return ms
}

func estimateMemoryMB(o Optimization, task Task) float64 {
	tokens := float64(max(0, task.PromptTokens) + max(0, task.MaxTokens))
	kv := tokens * kvKBPerTokenFP32 * precisionFactor(o.Precision)
	// activations scale with the batch
	act := float64(o.BatchSize) * 16
	return (kv + act) / 1024
}

func estimateThermalImpact(o Optimization) float64 {
	var base float64
	switch o.Strategy {
	case StrategyMinimal:
		base = 0.1
	case StrategyConservative:
		base = 0.25
	case StrategyMemoryOptimized:
		base = 0.35
	case StrategyAggressive:
		base = 0.85
	default:
		base = 0.5
	}
	if o.UseAccelerator {
		base += 0.1
	}
	return min(maxThermalImpact, base)
}
