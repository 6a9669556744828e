package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"logrelay/internal/models"
	"logrelay/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"
)

// ErrInvalidSubmission is returned when a raw submission carries no usable
// message. It maps to a bad-request reply at the ingress; the hub never
// retries it.
var ErrInvalidSubmission = errors.New("invalid log submission")

// RawSubmission is an inbound payload before normalization. Body is either a
// JSON document or plain text; LevelHint and SourceHint carry the X-Level and
// X-Source header values when the body does not specify them itself.
type RawSubmission struct {
	Body        []byte
	ContentType string
	LevelHint   string
	SourceHint  string
}

// submission is the intermediate shape validated before an entry is built.
type submission struct {
	Message string `validate:"required,max=65536"`
	Level   string `validate:"omitempty,max=64"`
	Source  string `validate:"omitempty,max=256"`
	Context map[string]interface{}
}

var jsonParserPool fastjson.ParserPool

// Normalize turns a raw submission into a canonical LogEntry. The normalizer
// is the source of truth for ID and Timestamp; callers cannot forge ordering
// or collide identifiers. Returns an error wrapping ErrInvalidSubmission when
// no usable message is present.
func Normalize(raw RawSubmission) (models.LogEntry, error) {
	var sub submission

	if strings.Contains(strings.ToLower(raw.ContentType), "application/json") {
		parser := jsonParserPool.Get()
		defer jsonParserPool.Put(parser)

		v, err := parser.ParseBytes(raw.Body)
		if err != nil {
			return models.LogEntry{}, fmt.Errorf("%w: malformed json body: %v", ErrInvalidSubmission, err)
		}
		if v.Type() != fastjson.TypeObject {
			return models.LogEntry{}, fmt.Errorf("%w: json body must be an object", ErrInvalidSubmission)
		}
		sub.Message = string(v.GetStringBytes("message"))
		sub.Level = string(v.GetStringBytes("level"))
		sub.Source = string(v.GetStringBytes("source"))
		// Context is accepted only when it is a JSON object; arrays and
		// scalars are dropped silently rather than rejected.
		if ctx := v.Get("context"); ctx != nil && ctx.Type() == fastjson.TypeObject {
			decoded := map[string]interface{}{}
			if err := json.Unmarshal(ctx.MarshalTo(nil), &decoded); err == nil && len(decoded) > 0 {
				sub.Context = decoded
			}
		}
	} else {
		// Plain-text body is treated as {message: body}
		sub.Message = string(raw.Body)
	}

	sub.Message = strings.TrimSpace(sub.Message)
	if sub.Level == "" {
		sub.Level = raw.LevelHint
	}
	if sub.Level == "" {
		sub.Level = "info"
	}
	sub.Level = strings.ToLower(sub.Level)
	if sub.Source == "" {
		sub.Source = raw.SourceHint
	}

	if validationErrors := validation.ValidateStruct(&sub); validationErrors != nil {
		return models.LogEntry{}, fmt.Errorf("%w: %s", ErrInvalidSubmission, validationErrors[0].Message)
	}

	return models.LogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Level:     sub.Level,
		Message:   sub.Message,
		Context:   sub.Context,
		Source:    sub.Source,
	}, nil
}
