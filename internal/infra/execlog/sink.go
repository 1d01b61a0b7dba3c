package execlog

import (
	"context"

	"go.uber.org/zap"

	"github.com/bryanwahyu/verification-orchestrator/internal/domain/executionlog"
)

// Sink tulis ke zap dan (opsional) ke repository. Error persist tidak pernah naik ke caller.
type Sink struct {
	Repo   executionlog.Repository
	Logger *zap.Logger
}

func New(repo executionlog.Repository, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{Repo: repo, Logger: logger}
}

func (s *Sink) Append(ctx context.Context, l *executionlog.Line) {
	fields := make([]zap.Field, 0, len(l.Tags)+1)
	fields = append(fields, zap.String("verificationTaskId", l.VerificationTaskID))
	for k, v := range l.Tags {
		fields = append(fields, zap.String(k, v))
	}
	switch l.Level {
	case executionlog.LevelError:
		s.Logger.Error(l.Message, fields...)
	case executionlog.LevelWarn:
		s.Logger.Warn(l.Message, fields...)
	default:
		s.Logger.Info(l.Message, fields...)
	}

	if s.Repo == nil {
		return
	}
	if err := s.Repo.Save(ctx, l); err != nil {
		s.Logger.Warn("persist execution log failed",
			zap.String("verificationTaskId", l.VerificationTaskID), zap.Error(err))
	}
}
