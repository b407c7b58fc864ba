package safety

// Config lists the patterns a PatternChecker rejects. Patterns use RE2 syntax.
type Config struct {
	InputPatterns  []string
	OutputPatterns []string
}
