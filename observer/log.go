package observer

import (
	"context"

	"github.com/dcshock/scrapepipe/pipeline"
	"go.uber.org/zap"
)

// LogObserver logs run boundaries.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver returns an observer writing to logger. A nil logger discards.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObserver{logger: logger}
}

// BeforeRun implements pipeline.Observer.
func (o *LogObserver) BeforeRun(ctx context.Context, run *pipeline.Run) error {
	o.logger.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("pipeline", run.Pipeline),
		zap.Bool("replay", run.Replay),
	)
	return nil
}

// AfterRun implements pipeline.Observer.
func (o *LogObserver) AfterRun(ctx context.Context, run *pipeline.Run, stats pipeline.Stats, err error) error {
	fields := []zap.Field{
		zap.String("run_id", run.ID),
		zap.String("pipeline", run.Pipeline),
		zap.Stringer("state", stats.State),
		zap.Int("items", stats.Items),
		zap.Duration("elapsed", stats.Elapsed),
	}
	for _, st := range stats.Stages {
		o.logger.Debug("stage",
			zap.String("run_id", run.ID),
			zap.Int("index", st.Index),
			zap.String("name", st.Name),
			zap.Int("in", st.In),
			zap.Int("out", st.Out),
		)
	}
	if err != nil {
		o.logger.Error("run failed", append(fields, zap.Error(err))...)
		return nil
	}
	o.logger.Info("run finished", fields...)
	return nil
}
