package cluster_label

import (
	"time"

	"github.com/yungbote/codeframe-backend/internal/jobs/queue"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
	"github.com/yungbote/codeframe-backend/internal/services"
)

type Pipeline struct {
	log     *logger.Logger
	labeler services.Labeler
	pricing *services.PricingCatalog
	timeout time.Duration
}

// New builds the handler that labels one cluster per job. timeout bounds a
// single labeling call; a timeout counts as a failed attempt.
func New(baseLog *logger.Logger, labeler services.Labeler, pricing *services.PricingCatalog, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if pricing == nil {
		pricing, _ = services.LoadPricingCatalog(nil)
	}
	return &Pipeline{
		log:     baseLog.With("pipeline", queue.DefaultJobType),
		labeler: labeler,
		pricing: pricing,
		timeout: timeout,
	}
}

func (p *Pipeline) Type() string { return queue.DefaultJobType }
