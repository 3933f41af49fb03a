package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// maxReasonLen bounds sanitized failure reasons before they enter the ledger.
const maxReasonLen = 140

// ChainReadError marks a failed on-chain read. The cycle skips whatever
// depended on the read and retries next tick; nothing is written anywhere.
type ChainReadError struct {
	Op  string
	Err error
}

func (e *ChainReadError) Error() string {
	return fmt.Sprintf("chain read %s: %v", e.Op, e.Err)
}

func (e *ChainReadError) Unwrap() error { return e.Err }

// ChainWriteError marks a failed transaction submission. Reason is already
// sanitized and safe to persist in an ActionRecord description.
type ChainWriteError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ChainWriteError) Error() string {
	return fmt.Sprintf("chain write %s: %v", e.Op, e.Err)
}

func (e *ChainWriteError) Unwrap() error { return e.Err }

// ValidationError marks input that failed shape or bounds checks, from the
// advisor's reply or from API callers. It never produces ledger writes.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// LedgerWriteError marks a failed append to the financial log. Callers must
// escalate it to process diagnostics: silently dropping financial rows is
// worse than crashing a cycle.
type LedgerWriteError struct {
	Table string
	Err   error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write %s: %v", e.Table, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }

// SanitizeReason flattens an error into a single printable line bounded to
// maxReasonLen, so raw node output never lands in the ledger verbatim.
func SanitizeReason(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	for _, r := range err.Error() {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(r):
			// drop
		default:
			b.WriteRune(r)
		}
	}
	s := strings.Join(strings.Fields(b.String()), " ")
	if len(s) > maxReasonLen {
		s = s[:maxReasonLen-3] + "..."
	}
	return s
}
