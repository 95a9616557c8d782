// Package security screens user-supplied content for leaked credentials,
// prompt injection and sensitive personal data before it is persisted.
package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Level ranks a detected threat.
type Level string

const (
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Profile selects scanning stringency. Strict blocks critical and high
// threats; moderate blocks only critical ones.
type Profile string

const (
	ProfileStrict   Profile = "strict"
	ProfileModerate Profile = "moderate"
)

// blockConfidence is the minimum confidence for a match to block a write.
// Lower-confidence matches are still reported by Scan but never block.
const blockConfidence = 0.8

// ErrBlocked is returned by Check when content must not be stored. The
// wrapped message names pattern descriptions only, never matched text.
var ErrBlocked = errors.New("security scan detected sensitive information")

// Threat is one pattern match. Matched text is deliberately not carried:
// a credential found in content must not resurface in logs or errors.
type Threat struct {
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Level       Level   `json:"level"`
	Confidence  float64 `json:"confidence"`
}

type pattern struct {
	re          *regexp.Regexp
	category    string
	description string
	level       Level
	confidence  float64
}

// Pattern corpus. High-noise heuristics (bare hex strings, long
// alphanumerics, email addresses) are omitted: record keys and user
// handles would trip them constantly.
var patterns = []pattern{
	{
		re:          regexp.MustCompile(`organizations/[a-f0-9\-]+/apiKeys/[a-f0-9\-]+`),
		category:    "api_credentials",
		description: "exchange API key path",
		level:       LevelCritical,
		confidence:  0.95,
	},
	{
		re:          regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
		category:    "api_credentials",
		description: "PEM private key",
		level:       LevelCritical,
		confidence:  0.98,
	},
	{
		re:          regexp.MustCompile(`sk_live_[0-9a-zA-Z]{24,}`),
		category:    "api_credentials",
		description: "payment provider live secret key",
		level:       LevelCritical,
		confidence:  0.9,
	},
	{
		re:          regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		category:    "api_credentials",
		description: "AWS access key id",
		level:       LevelCritical,
		confidence:  0.9,
	},
	{
		re:          regexp.MustCompile(`ghp_[0-9a-zA-Z]{36}`),
		category:    "api_credentials",
		description: "GitHub personal access token",
		level:       LevelHigh,
		confidence:  0.9,
	},
	{
		re:          regexp.MustCompile(`(?i)ignore\s+previous\s+instructions?`),
		category:    "prompt_injection",
		description: "direct prompt injection attempt",
		level:       LevelHigh,
		confidence:  0.9,
	},
	{
		re:          regexp.MustCompile(`(?i)system\s*:\s*you\s+are\s+now`),
		category:    "prompt_injection",
		description: "system role override attempt",
		level:       LevelHigh,
		confidence:  0.85,
	},
	{
		re:          regexp.MustCompile(`(?i)(forget|ignore|disregard|skip)\s+(everything|all|previous|prior)`),
		category:    "prompt_injection",
		description: "context manipulation attempt",
		level:       LevelMedium,
		confidence:  0.75,
	},
	{
		re:          regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		category:    "pii",
		description: "US social security number",
		level:       LevelHigh,
		confidence:  0.8,
	},
	{
		re:          regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
		category:    "pii",
		description: "credit card number",
		level:       LevelCritical,
		confidence:  0.7,
	},
}

// Scanner screens content against the pattern corpus under one profile.
// Safe for concurrent use.
type Scanner struct {
	profile Profile
}

// NewScanner creates a Scanner. Unknown profiles behave as strict.
func NewScanner(profile Profile) *Scanner {
	if profile != ProfileModerate {
		profile = ProfileStrict
	}
	return &Scanner{profile: profile}
}

// Scan returns every threat found in content, blocking or not.
func (s *Scanner) Scan(content string) []Threat {
	var threats []Threat
	for _, p := range patterns {
		if p.re.MatchString(content) {
			threats = append(threats, Threat{
				Category:    p.category,
				Description: p.description,
				Level:       p.level,
				Confidence:  p.confidence,
			})
		}
	}
	return threats
}

// Check returns an ErrBlocked-wrapped error when content contains a
// threat the profile blocks, nil otherwise.
func (s *Scanner) Check(content string) error {
	var blocked []string
	for _, t := range s.Scan(content) {
		if s.blocks(t) {
			blocked = append(blocked, t.Description)
		}
	}
	if len(blocked) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrBlocked, strings.Join(blocked, ", "))
}

func (s *Scanner) blocks(t Threat) bool {
	if t.Confidence < blockConfidence {
		return false
	}
	switch t.Level {
	case LevelCritical:
		return true
	case LevelHigh:
		return s.profile == ProfileStrict
	default:
		return false
	}
}
