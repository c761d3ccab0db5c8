// Package sanitize applies access-level-dependent projections to broker
// records before they leave the kernel. Sanitizers are registered per
// information category and must be monotone in level: everything visible at
// a lower level is visible at every higher level.
package sanitize

import (
	"log/slog"

	"github.com/aether-os/aether/pkg/ems"
)

// Sanitizer projects one record for the given access level. Implementations
// must be total (never fail) and must not mutate the input record.
type Sanitizer interface {
	// Name identifies the sanitizer in logs.
	Name() string

	// Sanitize returns a projected copy of the record.
	Sanitize(record map[string]any, level ems.AccessLevel) map[string]any
}

// Service holds the registered category sanitizers and the free-text masking
// patterns. Created once at startup; thread-safe and stateless aside from
// compiled patterns.
type Service struct {
	sanitizers map[ems.InformationCategory]Sanitizer
	patterns   []*CompiledPattern
}

// NewService creates a sanitization service with the built-in category
// sanitizers and compiled text patterns registered.
func NewService() *Service {
	s := &Service{
		sanitizers: make(map[ems.InformationCategory]Sanitizer),
	}

	s.register(ems.CategoryThreatData, &ThreatSanitizer{})
	s.register(ems.CategoryMissionPlan, &MissionSanitizer{})
	s.patterns = compileBuiltinPatterns()

	slog.Info("Sanitization service initialized",
		"category_sanitizers", len(s.sanitizers),
		"text_patterns", len(s.patterns))
	return s
}

func (s *Service) register(category ems.InformationCategory, sanitizer Sanitizer) {
	s.sanitizers[category] = sanitizer
}

// SanitizeRecord applies the category's sanitizer to one record. Categories
// without a registered sanitizer pass through as a shallow copy, so the
// operation is total across all categories.
func (s *Service) SanitizeRecord(category ems.InformationCategory, record map[string]any, level ems.AccessLevel) map[string]any {
	sanitizer, ok := s.sanitizers[category]
	if !ok {
		return copyRecord(record)
	}
	return sanitizer.Sanitize(record, level)
}

// SanitizeRecords applies the category's sanitizer to every record.
func (s *Service) SanitizeRecords(category ems.InformationCategory, records []map[string]any, level ems.AccessLevel) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, record := range records {
		out[i] = s.SanitizeRecord(category, record, level)
	}
	return out
}

// MaskText sweeps free text with the compiled masking patterns. Applied to
// text payloads leaving the broker below the given level; levels at or above
// SENSITIVE see the original text.
func (s *Service) MaskText(text string, level ems.AccessLevel) string {
	if text == "" || level.AtLeast(ems.AccessSensitive) {
		return text
	}
	masked := text
	for _, pattern := range s.patterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}
	return masked
}

func copyRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}
