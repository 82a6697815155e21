package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	dberr "github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

type Job struct {
	storage *Store
}

const jobColumns = `
	id, template_id, template_name, format, triggered_by, recipients, status,
	started_at, finished_at, output_size, artifact_ref, deliveries,
	error_kind, error_message
`

func (j *Job) Insert(ctx context.Context, job *model.ExportJob) error {
	db, err := j.storage.Database()
	if err != nil {
		return dberr.Internal("insert_job", dberr.WithCause(err))
	}

	recipients, err := json.Marshal(job.Recipients)
	if err != nil {
		return dberr.Internal("job json encoding failed",
			dberr.WithID("store.job.insert.marshal"), dberr.WithCause(err))
	}

	_, err = db.Exec(ctx, `
		INSERT INTO report_exporter.export_job
			(id, template_id, template_name, format, triggered_by, recipients, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		job.ID,
		job.TemplateID,
		job.TemplateName,
		job.Format,
		job.TriggeredBy,
		recipients,
		job.Status,
		job.StartedAt,
	)
	if err != nil {
		// The partial unique index on (template_id) rejects a second
		// queued or processing job for the same template.
		var pgErr *pgconn.PgError
		if dberr.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return dberr.InvalidState("export already in progress for template "+job.TemplateID,
				dberr.WithID("store.job.insert.in_flight"))
		}
		return dberr.Internal("insert_job",
			dberr.WithID("store.job.insert.exec"), dberr.WithCause(err))
	}
	return nil
}

const uniqueViolationCode = "23505"

func (j *Job) Get(ctx context.Context, id string) (*model.ExportJob, error) {
	db, err := j.storage.Database()
	if err != nil {
		return nil, dberr.Internal("get_job", dberr.WithCause(err))
	}

	row := db.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM report_exporter.export_job
		WHERE id = $1
	`, id)

	job, err := scanJob(row)
	if err != nil {
		if dberr.Is(err, pgx.ErrNoRows) {
			return nil, dberr.NotFound("job not found: "+id,
				dberr.WithID("store.job.get.not_found"))
		}
		return nil, dberr.Internal("get_job",
			dberr.WithID("store.job.get.scan"), dberr.WithCause(err))
	}
	return job, nil
}

// Claim flips a job from queued to processing. The WHERE clause doubles as
// the compare-and-swap: a second claimer sees zero affected rows.
func (j *Job) Claim(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	db, err := j.storage.Database()
	if err != nil {
		return false, dberr.Internal("claim_job", dberr.WithCause(err))
	}

	cmd, err := db.Exec(ctx, `
		UPDATE report_exporter.export_job
		SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
	`, model.JobProcessing, startedAt, id, model.JobQueued)
	if err != nil {
		return false, dberr.Internal("claim_job",
			dberr.WithID("store.job.claim.exec"), dberr.WithCause(err))
	}
	return cmd.RowsAffected() == 1, nil
}

// HasInFlight reports whether a template already has a queued or processing
// job, enforcing at-most-one in-flight execution per template.
func (j *Job) HasInFlight(ctx context.Context, templateID string) (bool, error) {
	db, err := j.storage.Database()
	if err != nil {
		return false, dberr.Internal("has_in_flight", dberr.WithCause(err))
	}

	var exists bool
	err = db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM report_exporter.export_job
			WHERE template_id = $1 AND status IN ($2, $3)
		)
	`, templateID, model.JobQueued, model.JobProcessing).Scan(&exists)
	if err != nil {
		return false, dberr.Internal("has_in_flight",
			dberr.WithID("store.job.has_in_flight.scan"), dberr.WithCause(err))
	}
	return exists, nil
}

func (j *Job) Complete(ctx context.Context, id string, finishedAt time.Time, artifactRef string, size int64) error {
	db, err := j.storage.Database()
	if err != nil {
		return dberr.Internal("complete_job", dberr.WithCause(err))
	}

	cmd, err := db.Exec(ctx, `
		UPDATE report_exporter.export_job
		SET status = $1, finished_at = $2, artifact_ref = $3, output_size = $4
		WHERE id = $5 AND status = $6
	`, model.JobCompleted, finishedAt, artifactRef, size, id, model.JobProcessing)
	if err != nil {
		return dberr.Internal("complete_job",
			dberr.WithID("store.job.complete.exec"), dberr.WithCause(err))
	}
	if cmd.RowsAffected() == 0 {
		return dberr.InvalidState("job is not processing: "+id,
			dberr.WithID("store.job.complete.not_processing"))
	}
	return nil
}

func (j *Job) Fail(ctx context.Context, id string, finishedAt time.Time, kind string, msg string) error {
	db, err := j.storage.Database()
	if err != nil {
		return dberr.Internal("fail_job", dberr.WithCause(err))
	}

	cmd, err := db.Exec(ctx, `
		UPDATE report_exporter.export_job
		SET status = $1, finished_at = $2, error_kind = $3, error_message = $4
		WHERE id = $5 AND status IN ($6, $7)
	`, model.JobFailed, finishedAt, kind, msg, id, model.JobQueued, model.JobProcessing)
	if err != nil {
		return dberr.Internal("fail_job",
			dberr.WithID("store.job.fail.exec"), dberr.WithCause(err))
	}
	if cmd.RowsAffected() == 0 {
		return dberr.InvalidState("job already terminal: "+id,
			dberr.WithID("store.job.fail.terminal"))
	}
	return nil
}

func (j *Job) SetDeliveries(ctx context.Context, id string, deliveries []model.Delivery) error {
	db, err := j.storage.Database()
	if err != nil {
		return dberr.Internal("set_deliveries", dberr.WithCause(err))
	}

	payload, err := json.Marshal(deliveries)
	if err != nil {
		return dberr.Internal("deliveries json encoding failed",
			dberr.WithID("store.job.set_deliveries.marshal"), dberr.WithCause(err))
	}

	_, err = db.Exec(ctx, `
		UPDATE report_exporter.export_job
		SET deliveries = $1
		WHERE id = $2
	`, payload, id)
	if err != nil {
		return dberr.Internal("set_deliveries",
			dberr.WithID("store.job.set_deliveries.exec"), dberr.WithCause(err))
	}
	return nil
}

func (j *Job) ListByStatus(ctx context.Context, status model.JobStatus) ([]*model.ExportJob, error) {
	db, err := j.storage.Database()
	if err != nil {
		return nil, dberr.Internal("list_jobs", dberr.WithCause(err))
	}

	rows, err := db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM report_exporter.export_job
		WHERE status = $1
		ORDER BY started_at
	`, status)
	if err != nil {
		return nil, dberr.Internal("list_jobs",
			dberr.WithID("store.job.list_by_status.query"), dberr.WithCause(err))
	}
	defer rows.Close()

	var out []*model.ExportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, dberr.Internal("scan_job",
				dberr.WithID("store.job.list_by_status.scan"), dberr.WithCause(err))
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Internal("scan_job",
			dberr.WithID("store.job.list_by_status.rows"), dberr.WithCause(err))
	}
	return out, nil
}

func scanJob(row pgx.Row) (*model.ExportJob, error) {
	var (
		job        model.ExportJob
		recipients []byte
		deliveries []byte
		errKind    *string
		errMsg     *string
	)
	err := row.Scan(
		&job.ID,
		&job.TemplateID,
		&job.TemplateName,
		&job.Format,
		&job.TriggeredBy,
		&recipients,
		&job.Status,
		&job.StartedAt,
		&job.FinishedAt,
		&job.OutputSize,
		&job.ArtifactRef,
		&deliveries,
		&errKind,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &job.Recipients); err != nil {
			return nil, err
		}
	}
	if len(deliveries) > 0 {
		if err := json.Unmarshal(deliveries, &job.Deliveries); err != nil {
			return nil, err
		}
	}
	if errKind != nil {
		job.ErrorKind = dberr.Kind(*errKind)
	}
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	return &job, nil
}
