package logging

import (
	"context"
	"fmt"
	"os"
	"time"

	"logrelay/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
)

// relaySource labels entries produced by the service itself.
const relaySource = "logrelay"

// LogIngestor is the slice of the hub the relay core needs.
type LogIngestor interface {
	Ingest(ctx context.Context, entry models.LogEntry) error
}

// relayCore implements zapcore.Core and feeds the service's own operational
// logs into the log hub, so viewers see them alongside submitted entries.
//
// The hub and the repository must never log through a logger carrying this
// core: Ingest runs under the hub mutex and would deadlock. They use the
// file/console logger instead (see bootstrap).
type relayCore struct {
	zapcore.LevelEnabler
	ingestor LogIngestor
	fields   []zapcore.Field // Fields added via logger.With()
}

// NewRelayCore creates a core that turns log writes into hub entries.
func NewRelayCore(enab zapcore.LevelEnabler, ingestor LogIngestor) zapcore.Core {
	return &relayCore{
		LevelEnabler: enab,
		ingestor:     ingestor,
		fields:       make([]zapcore.Field, 0),
	}
}

func (c *relayCore) Enabled(level zapcore.Level) bool {
	return c.LevelEnabler.Enabled(level)
}

func (c *relayCore) With(fields []zapcore.Field) zapcore.Core {
	clone := c.clone()
	clone.fields = append(clone.fields, fields...)
	return clone
}

func (c *relayCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write uses MapObjectEncoder to extract structured fields into the entry
// context.
func (c *relayCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	allFields := append(append([]zapcore.Field(nil), c.fields...), fields...)

	var contextMap map[string]interface{}
	if len(allFields) > 0 {
		mapEncoder := zapcore.NewMapObjectEncoder()
		for _, field := range allFields {
			field.AddTo(mapEncoder)
		}
		contextMap = mapEncoder.Fields
	}

	entry := models.LogEntry{
		ID:        uuid.NewString(),
		Timestamp: ent.Time.UTC(),
		Level:     ent.Level.String(),
		Message:   ent.Message,
		Context:   contextMap,
		Source:    relaySource,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ingestor.Ingest(ctx, entry); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to relay log entry into hub: %v\n", err)
	}
	return nil
}

func (c *relayCore) Sync() error {
	return nil
}

func (c *relayCore) clone() *relayCore {
	return &relayCore{
		LevelEnabler: c.LevelEnabler,
		ingestor:     c.ingestor,
		fields:       append([]zapcore.Field(nil), c.fields...),
	}
}
