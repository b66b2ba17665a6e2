package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"apuracao-service/internal/repository"
	"apuracao-service/internal/services"
)

// VencimentoJob persists the vencido state on DAS documents whose due date
// has passed. Reads already present overdue documents as vencido; this job
// makes the transition durable and emits the das.vencido event.
type VencimentoJob struct {
	repo     repository.ApuracaoRepositoryInterface
	das      *services.DASService
	logger   *logrus.Logger
	interval time.Duration
	agora    func() time.Time
	stopCh   chan struct{}
}

// NewVencimentoJob creates a new vencimento job
func NewVencimentoJob(repo repository.ApuracaoRepositoryInterface, das *services.DASService, logger *logrus.Logger, interval time.Duration) *VencimentoJob {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	return &VencimentoJob{
		repo:     repo,
		das:      das,
		logger:   logger,
		interval: interval,
		agora:    time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the vencimento job
func (j *VencimentoJob) Start(ctx context.Context) {
	j.logger.Info("Vencimento job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			j.runCheck(ctx)
		case <-j.stopCh:
			j.logger.Info("Vencimento job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Vencimento job context cancelled")
			return
		}
	}
}

// Stop signals the job to stop
func (j *VencimentoJob) Stop() {
	close(j.stopCh)
}

func (j *VencimentoJob) runCheck(ctx context.Context) {
	j.logger.Debug("Running vencimento check...")

	documentos, err := j.repo.ListDASVencendo(ctx, j.agora())
	if err != nil {
		j.logger.Errorf("Failed to list overdue DAS documents: %v", err)
		return
	}

	if len(documentos) == 0 {
		j.logger.Debug("No DAS documents overdue")
		return
	}

	j.logger.Infof("Found %d overdue DAS documents", len(documentos))

	for i := range documentos {
		d := &documentos[i]
		if err := j.das.MarcarVencido(ctx, d); err != nil {
			j.logger.Errorf("Failed to mark DAS %s as vencido: %v", d.ID, err)
			continue
		}
		j.logger.Infof("Marked DAS %s (%s) as vencido", d.ID, d.NumeroDoc)
	}
}
