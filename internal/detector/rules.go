package detector

import "regexp"

// DetectionRule represents a single pattern-based PII detection rule.
// Rule order matters: when two rules match overlapping spans, the rule
// listed first wins (SSN is listed before phone so a social security
// number is never misclassified as a phone number).
type DetectionRule struct {
	Name       string
	Type       EntityType
	Pattern    *regexp.Regexp
	Confidence float64
}

// GetDefaultRules returns the built-in pattern rules.
func GetDefaultRules() []DetectionRule {
	return []DetectionRule{
		{
			Name:       "ssn",
			Type:       SSN,
			Pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Confidence: 0.95,
		},
		{
			Name:       "credit_card",
			Type:       CreditCard,
			Pattern:    regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
			Confidence: 0.85,
		},
		{
			Name:       "email",
			Type:       Email,
			Pattern:    regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			Confidence: 0.95,
		},
		{
			Name:       "phone",
			Type:       Phone,
			Pattern:    regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
			Confidence: 0.75,
		},
		{
			Name:       "ipv4",
			Type:       IPAddress,
			Pattern:    regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`),
			Confidence: 0.80,
		},
		{
			Name:       "url",
			Type:       URL,
			Pattern:    regexp.MustCompile(`\bhttps?://[^\s<>"']+`),
			Confidence: 0.90,
		},
	}
}
