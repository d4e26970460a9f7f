package governance

import (
	"context"
	"encoding/json"
	"regexp"
)

// secretPattern pairs a classification label with its detector.
type secretPattern struct {
	classification string
	re             *regexp.Regexp
}

// Patterns target credential shapes, not entropy: a ledger must never need
// a second pass to decide whether a match was real.
var defaultPatterns = []secretPattern{
	{"aws_access_key", regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"github_token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{"openai_api_key", regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`)},
	{"slack_token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
	{"private_key", regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA |PGP )?PRIVATE KEY-----`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`)},
	{"connection_string", regexp.MustCompile(`\b(postgres|mysql|mongodb(\+srv)?|redis|amqp)://[^\s:@/]+:[^\s@/]+@`)},
}

// RegexScanner detects credential material in node output before it can be
// persisted. Payloads are serialized to JSON so nested structures are
// scanned whole.
type RegexScanner struct {
	patterns []secretPattern
}

// NewRegexScanner creates a scanner with the default pattern set.
func NewRegexScanner() *RegexScanner {
	return &RegexScanner{patterns: defaultPatterns}
}

// Scan reports the first matching classification. The match text itself is
// never returned.
func (s *RegexScanner) Scan(ctx context.Context, payload any) (ScanResult, error) {
	var text string
	switch v := payload.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return ScanResult{}, err
		}
		text = string(b)
	}

	for _, p := range s.patterns {
		if p.re.MatchString(text) {
			return ScanResult{
				Verdict:        VerdictSecretDetected,
				Classification: p.classification,
			}, nil
		}
	}
	return ScanResult{Verdict: VerdictClean}, nil
}
