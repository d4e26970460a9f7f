// Package governance defines the secret-detection checkpoint contract. The
// scanner itself is an external collaborator; only the verdict shape and
// the abort-on-detect semantics live here.
package governance

import (
	"context"
	"fmt"
)

// Verdict of a scan.
type Verdict string

const (
	VerdictClean          Verdict = "CLEAN"
	VerdictSecretDetected Verdict = "SECRET_DETECTED"
)

// ScanResult carries the verdict and, on detection, a classification label.
// It never carries the scanned payload.
type ScanResult struct {
	Verdict        Verdict `json:"verdict"`
	Classification string  `json:"classification,omitempty"`
}

// Scanner is the secret governance gate contract.
type Scanner interface {
	Scan(ctx context.Context, payload any) (ScanResult, error)
}

// HardStopError signals an unconditional abort of the current node: no
// output is persisted and no further routing applies. The error message is
// redacted; only verdict and classification are ever recorded.
type HardStopError struct {
	Classification string
}

func (e *HardStopError) Error() string {
	return fmt.Sprintf("governance hard stop: secret detected (%s)", e.Classification)
}

// Check runs the scanner and converts a detection into a HardStopError. A
// nil scanner means the gate is not configured and the payload passes.
func Check(ctx context.Context, scanner Scanner, payload any) error {
	if scanner == nil {
		return nil
	}
	result, err := scanner.Scan(ctx, payload)
	if err != nil {
		return fmt.Errorf("secret scan failed: %w", err)
	}
	if result.Verdict == VerdictSecretDetected {
		return &HardStopError{Classification: result.Classification}
	}
	return nil
}

// NoopScanner always reports clean. Used when the gate is disabled by
// configuration.
type NoopScanner struct{}

// Scan reports clean for any payload.
func (NoopScanner) Scan(context.Context, any) (ScanResult, error) {
	return ScanResult{Verdict: VerdictClean}, nil
}
