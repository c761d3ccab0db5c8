package sanitize

import "regexp"

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPatterns are the free-text maskers swept over text payloads for
// callers below SENSITIVE.
var builtinPatterns = []struct {
	name        string
	pattern     string
	replacement string
	description string
}{
	{
		name:        "precise_coordinates",
		pattern:     `\b\d{1,3}\.\d{3,}\s*,\s*-?\d{1,3}\.\d{3,}\b`,
		replacement: "[COORDINATES MASKED]",
		description: "Decimal lat/lon pairs with three or more decimals",
	},
	{
		name:        "mgrs_grid",
		pattern:     `\b\d{1,2}[C-HJ-NP-X][A-HJ-NP-Z]{2}\d{6,10}\b`,
		replacement: "[GRID MASKED]",
		description: "MGRS grid references",
	},
	{
		name:        "frequency_assignment",
		pattern:     `\b\d{3,5}(?:\.\d+)?\s*[-–]\s*\d{3,5}(?:\.\d+)?\s*MHz\b`,
		replacement: "[FREQUENCY RANGE MASKED]",
		description: "Assigned frequency ranges in MHz",
	},
}

// compileBuiltinPatterns compiles the built-in patterns. Patterns are
// compile-time constants, so failure here is a programming error.
func compileBuiltinPatterns() []*CompiledPattern {
	compiled := make([]*CompiledPattern, 0, len(builtinPatterns))
	for _, p := range builtinPatterns {
		compiled = append(compiled, &CompiledPattern{
			Name:        p.name,
			Regex:       regexp.MustCompile(p.pattern),
			Replacement: p.replacement,
			Description: p.description,
		})
	}
	return compiled
}
