// Package safety provides the content checks run at generation checkpoints.
package safety

import "context"

// Verdict is the outcome of one check. Reason is set when Safe is false.
type Verdict struct {
	Safe   bool
	Reason string
}

// Checker classifies text. Implementations must be safe for concurrent use.
type Checker interface {
	CheckInput(ctx context.Context, text string) Verdict
	CheckOutput(ctx context.Context, text string) Verdict
}

// Safe is the passing verdict.
var Safe = Verdict{Safe: true}

type allowAll struct{}

func (allowAll) CheckInput(context.Context, string) Verdict  { return Safe }
func (allowAll) CheckOutput(context.Context, string) Verdict { return Safe }

// AllowAll returns a Checker that passes everything.
func AllowAll() Checker { return allowAll{} }
