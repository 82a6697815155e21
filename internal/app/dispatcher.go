package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
	"github.com/clinicore/report-exporter/internal/notifier"
	"github.com/clinicore/report-exporter/internal/store"
)

// Dispatcher delivers a finished artifact to the template's recipients.
// Delivery is best effort: one recipient failing never rolls back the job,
// it only marks that recipient's delivery as failed.
type Dispatcher struct {
	jobs        store.JobStore
	history     store.HistoryStore
	notifier    notifier.Notifier
	concurrency int
	log         *slog.Logger
}

func NewDispatcher(jobs store.JobStore, history store.HistoryStore, n notifier.Notifier, concurrency int, log *slog.Logger) (*Dispatcher, error) {
	if jobs == nil || history == nil {
		return nil, errors.Internal("dispatcher store is nil")
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Dispatcher{
		jobs:        jobs,
		history:     history,
		notifier:    n,
		concurrency: concurrency,
		log:         log,
	}, nil
}

// Deliver fans the artifact out to every recipient and persists the
// per-recipient outcomes on the job and its history record.
func (d *Dispatcher) Deliver(ctx context.Context, job *model.ExportJob, art *model.Artifact) []model.Delivery {
	if len(job.Recipients) == 0 {
		return nil
	}

	deliveries := make([]model.Delivery, len(job.Recipients))
	if d.notifier == nil {
		now := time.Now()
		for i, recipient := range job.Recipients {
			deliveries[i] = model.Delivery{
				Recipient:   recipient,
				Status:      model.DeliveryFailed,
				AttemptedAt: &now,
				Error:       "no delivery channel configured",
			}
		}
		d.persist(ctx, job.ID, deliveries)
		return deliveries
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, recipient := range job.Recipients {
		g.Go(func() error {
			attemptedAt := time.Now()
			delivery := model.Delivery{
				Recipient:   recipient,
				Status:      model.DeliverySent,
				AttemptedAt: &attemptedAt,
			}
			if err := d.notifier.Send(gctx, recipient, art); err != nil {
				delivery.Status = model.DeliveryFailed
				delivery.Error = err.Error()
				d.log.WarnContext(ctx, "report_exporter.dispatcher.delivery_failed",
					slog.String("job_id", job.ID),
					slog.String("recipient", recipient),
					slog.String("error", err.Error()))
			}
			deliveries[i] = delivery
			return nil
		})
	}
	_ = g.Wait()

	d.persist(ctx, job.ID, deliveries)
	sent := 0
	for _, delivery := range deliveries {
		if delivery.Status == model.DeliverySent {
			sent++
		}
	}
	d.log.InfoContext(ctx, "report_exporter.dispatcher.delivered",
		slog.String("job_id", job.ID),
		slog.Int("sent", sent),
		slog.Int("failed", len(deliveries)-sent))
	return deliveries
}

func (d *Dispatcher) persist(ctx context.Context, jobID string, deliveries []model.Delivery) {
	if err := d.jobs.SetDeliveries(ctx, jobID, deliveries); err != nil {
		d.log.WarnContext(ctx, "report_exporter.dispatcher.persist_failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
	}
	if err := d.history.UpdateDeliveries(ctx, jobID, deliveries); err != nil {
		d.log.WarnContext(ctx, "report_exporter.dispatcher.history_update_failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
	}
}
