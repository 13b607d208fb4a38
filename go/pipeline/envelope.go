package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// DeadLetterEnvelope wraps an unprocessable payload with error metadata
// before it is written to the dead-letter queue.
type DeadLetterEnvelope struct {
	ErrorReason     string    `json:"errorReason"`
	ErrorMessage    string    `json:"errorMessage"`
	ErrorStackTrace string    `json:"errorStackTrace,omitempty"`
	FailedAt        time.Time `json:"failedAt"`
	OriginalMessage string    `json:"originalMessage"`
}

// newEnvelope captures the failure and the verbatim payload. When err
// carries a pkg/errors stack it is rendered into ErrorStackTrace.
func newEnvelope(reason string, err error, original []byte) DeadLetterEnvelope {
	var env = DeadLetterEnvelope{
		ErrorReason:     reason,
		ErrorMessage:    err.Error(),
		FailedAt:        time.Now().UTC(),
		OriginalMessage: string(original),
	}
	type stackTracer interface{ StackTrace() errors.StackTrace }
	var st stackTracer
	if errors.As(err, &st) {
		env.ErrorStackTrace = fmt.Sprintf("%+v", st.StackTrace())
	}
	return env
}

// Marshal renders the envelope as the UTF-8 structured text written to the
// dead-letter queue.
func (e DeadLetterEnvelope) Marshal() []byte {
	var raw, err = json.MarshalIndent(e, "", "  ")
	if err != nil {
		// Every field is a string or time; this cannot fail in practice.
		return []byte(fmt.Sprintf(`{"errorReason":%q,"errorMessage":%q}`,
			e.ErrorReason, e.ErrorMessage))
	}
	return raw
}

// ParseEnvelope decodes a dead-letter payload, for tests and tooling.
func ParseEnvelope(raw []byte) (DeadLetterEnvelope, error) {
	var e DeadLetterEnvelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return DeadLetterEnvelope{}, fmt.Errorf("decoding dead-letter envelope: %w", err)
	}
	return e, nil
}
