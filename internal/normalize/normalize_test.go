package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonSubmission(body string) RawSubmission {
	return RawSubmission{
		Body:        []byte(body),
		ContentType: "application/json",
	}
}

func TestNormalize_StructuredPayload(t *testing.T) {
	entry, err := Normalize(jsonSubmission(`{"message":"hi"}`))
	require.NoError(t, err)

	assert.Equal(t, "hi", entry.Message)
	assert.Equal(t, "info", entry.Level, "level defaults to info")
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
	assert.Empty(t, entry.Source)
	assert.Nil(t, entry.Context)
}

func TestNormalize_PlainTextBody(t *testing.T) {
	entry, err := Normalize(RawSubmission{
		Body:        []byte("  hello from curl  "),
		ContentType: "text/plain",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello from curl", entry.Message)
	assert.Equal(t, "info", entry.Level)
}

func TestNormalize_EmptyMessageFails(t *testing.T) {
	cases := map[string]RawSubmission{
		"empty json message":      jsonSubmission(`{"message":""}`),
		"whitespace json message": jsonSubmission(`{"message":"   "}`),
		"missing json message":    jsonSubmission(`{"level":"info"}`),
		"empty text body":         {Body: []byte("   "), ContentType: "text/plain"},
		"malformed json":          jsonSubmission(`{"message":`),
		"json array body":         jsonSubmission(`[1,2,3]`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(raw)
			require.ErrorIs(t, err, ErrInvalidSubmission)
		})
	}
}

func TestNormalize_LevelResolution(t *testing.T) {
	// Explicit field wins and is lowercased
	entry, err := Normalize(jsonSubmission(`{"message":"x","level":"ERROR"}`))
	require.NoError(t, err)
	assert.Equal(t, "error", entry.Level)

	// Header hint fills in when the field is absent
	raw := jsonSubmission(`{"message":"x"}`)
	raw.LevelHint = "WARN"
	entry, err = Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "warn", entry.Level)
}

func TestNormalize_SourceResolution(t *testing.T) {
	raw := jsonSubmission(`{"message":"x","source":"worker-1"}`)
	raw.SourceHint = "header-source"
	entry, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", entry.Source, "explicit field wins over header")

	raw = jsonSubmission(`{"message":"x"}`)
	raw.SourceHint = "header-source"
	entry, err = Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "header-source", entry.Source)
}

func TestNormalize_ContextObjectAccepted(t *testing.T) {
	entry, err := Normalize(jsonSubmission(`{"message":"x","context":{"a":1,"b":"two"}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": float64(1), "b": "two"}, entry.Context)
}

func TestNormalize_NonObjectContextDropped(t *testing.T) {
	for name, body := range map[string]string{
		"array":  `{"message":"x","context":[1,2,3]}`,
		"scalar": `{"message":"x","context":42}`,
		"string": `{"message":"x","context":"nope"}`,
	} {
		t.Run(name, func(t *testing.T) {
			entry, err := Normalize(jsonSubmission(body))
			require.NoError(t, err, "non-object context is dropped, not rejected")
			assert.Nil(t, entry.Context)
		})
	}
}

func TestNormalize_AssignsUniqueIDs(t *testing.T) {
	first, err := Normalize(jsonSubmission(`{"message":"x"}`))
	require.NoError(t, err)
	second, err := Normalize(jsonSubmission(`{"message":"x"}`))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestNormalize_IgnoresClientSuppliedIDAndTimestamp(t *testing.T) {
	entry, err := Normalize(jsonSubmission(`{"message":"x","id":"forged","ts":"1999-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.NotEqual(t, "forged", entry.ID)
	assert.NotEqual(t, 1999, entry.Timestamp.Year())
}
