package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

type HealthReport struct {
	OK       bool              `json:"ok"`
	Checks   map[string]string `json:"checks"`
	Duration string            `json:"duration"`
}

type HealthService interface {
	Check(ctx context.Context) HealthReport
}

type healthService struct {
	db       *gorm.DB
	log      *logger.Logger
	labeling HealthChecker
	timeout  time.Duration
}

// NewHealthService checks the database and, when labeling is non-nil, the
// labeling service.
func NewHealthService(db *gorm.DB, baseLog *logger.Logger, labeling HealthChecker) HealthService {
	return &healthService{
		db:       db,
		log:      baseLog.With("service", "HealthService"),
		labeling: labeling,
		timeout:  3 * time.Second,
	}
}

func (s *healthService) Check(ctx context.Context) HealthReport {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rep := HealthReport{OK: true, Checks: map[string]string{}}
	record := func(name string, err error) {
		if err != nil {
			rep.OK = false
			rep.Checks[name] = err.Error()
			s.log.Warn("health check failed", "check", name, "error", err)
			return
		}
		rep.Checks[name] = "ok"
	}

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	record("database", err)
	if s.labeling != nil {
		record("labeling", s.labeling.Health(ctx))
	}
	rep.Duration = time.Since(start).String()
	return rep
}
