package workflow

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeLabel folds a decision label for comparison, so "Poor", "POOR"
// and " poor " are the same route.
func NormalizeLabel(label string) string {
	// A Caser is stateful; build one per call so runs never share it.
	return cases.Fold().String(strings.TrimSpace(label))
}

// Route returns the explicit successor for a label, comparing folded labels.
func (s *DecisionSpec) Route(label string) (string, bool) {
	label = NormalizeLabel(label)
	if target, ok := s.Routes[label]; ok {
		return target, true
	}
	for key, target := range s.Routes {
		if NormalizeLabel(key) == label {
			return target, true
		}
	}
	return "", false
}

// InVocabulary reports whether a label belongs to a vocabulary.
func InVocabulary(label string, vocabulary []string) bool {
	label = NormalizeLabel(label)
	for _, v := range vocabulary {
		if NormalizeLabel(v) == label {
			return true
		}
	}
	return false
}
