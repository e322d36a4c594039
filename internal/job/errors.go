package job

import "fmt"

// ShareError is a numbered Stratum-wire rejection, per spec.md §7.
type ShareError struct {
	Code    int
	Message string
}

func (e *ShareError) Error() string { return fmt.Sprintf("[%d] %s", e.Code, e.Message) }

func newShareError(code int, format string, args ...any) *ShareError {
	return &ShareError{Code: code, Message: fmt.Sprintf(format, args...)}
}

const (
	codeInvalidSubmission = 20
	codeJobNotFound       = 21
	codeDuplicateShare    = 22
	codeLowDifficulty     = 23
)

// CodeJobNotFound and CodeLowDifficulty let callers outside this package
// (the metrics layer) distinguish a stale-job submission and a
// below-difficulty submission from a generic invalid one.
const (
	CodeJobNotFound   = codeJobNotFound
	CodeLowDifficulty = codeLowDifficulty
)
