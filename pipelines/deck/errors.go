package deck

import (
	"fmt"
	"strings"
)

// StageError carries enough context to tell a missing tool from a bad input
// from a credential problem: the stage, the slide index if the failure is
// per-slide, the external invocation that failed, and its captured output.
type StageError struct {
	Stage   Stage
	Slide   int // 0 when not slide-specific
	Op      string
	Output  string
	Wrapped error
}

func (e *StageError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s failed", e.Stage)
	if e.Slide > 0 {
		fmt.Fprintf(&sb, " at slide %d", e.Slide)
	}
	if e.Op != "" {
		fmt.Fprintf(&sb, " (%s)", e.Op)
	}
	fmt.Fprintf(&sb, ": %v", e.Wrapped)
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&sb, "\noutput: %s", out)
	}
	return sb.String()
}

func (e *StageError) Unwrap() error { return e.Wrapped }
