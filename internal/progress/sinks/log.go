package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/progress"
)

// LogSink writes one structured log line per event. Module failures are
// logged at warn level, everything else at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
			zap.String("query", evt.Query),
		}
		if evt.Module != "" {
			fields = append(fields, zap.String("module", evt.Module))
		}
		switch evt.Stage {
		case progress.StageElementStart:
			fields = append(fields, zap.Int("index", evt.Index), zap.Int("total", evt.Total))
		case progress.StageDumpWritten:
			fields = append(fields, zap.String("uri", evt.URI), zap.Int("bytes", evt.Bytes), zap.Int("records", evt.Records))
		case progress.StageModuleDone:
			fields = append(fields, zap.Int("records", evt.Records))
		case progress.StageModuleError:
			s.logger.Warn("progress event", append(fields, zap.String("note", evt.Note))...)
			continue
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
