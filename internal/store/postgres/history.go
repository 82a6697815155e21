package postgres

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	dberr "github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

type History struct {
	storage *Store
}

const historyColumns = `
	id, job_id, template_id, template_name, format, triggered_by, status,
	started_at, finished_at, duration_ms, output_size, artifact_ref,
	deliveries, download_count, error_kind, error_message, retention_expires_at
`

func (h *History) Append(ctx context.Context, rec *model.HistoryRecord) (int64, error) {
	db, err := h.storage.Database()
	if err != nil {
		return 0, dberr.Internal("append_history", dberr.WithCause(err))
	}

	deliveries, err := json.Marshal(rec.Deliveries)
	if err != nil {
		return 0, dberr.Internal("history json encoding failed",
			dberr.WithID("store.history.append.marshal"), dberr.WithCause(err))
	}

	query := `
		INSERT INTO report_exporter.export_history
			(job_id, template_id, template_name, format, triggered_by, status,
			 started_at, finished_at, duration_ms, output_size, artifact_ref,
			 deliveries, error_kind, error_message, retention_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`
	var id int64
	err = db.QueryRow(ctx, query,
		rec.JobID,
		rec.TemplateID,
		rec.TemplateName,
		rec.Format,
		rec.TriggeredBy,
		rec.Status,
		rec.StartedAt,
		rec.FinishedAt,
		rec.DurationMs,
		rec.OutputSize,
		rec.ArtifactRef,
		deliveries,
		nullable(string(rec.ErrorKind)),
		nullable(rec.ErrorMessage),
		rec.RetentionExpiresAt,
	).Scan(&id)
	if err != nil {
		return 0, dberr.Internal("append_history",
			dberr.WithID("store.history.append.exec"), dberr.WithCause(err))
	}
	rec.ID = id
	return id, nil
}

func (h *History) GetByJobID(ctx context.Context, jobID string) (*model.HistoryRecord, error) {
	db, err := h.storage.Database()
	if err != nil {
		return nil, dberr.Internal("get_history", dberr.WithCause(err))
	}

	row := db.QueryRow(ctx, `
		SELECT `+historyColumns+`
		FROM report_exporter.export_history
		WHERE job_id = $1
	`, jobID)

	rec, err := scanHistory(row)
	if err != nil {
		if dberr.Is(err, pgx.ErrNoRows) {
			return nil, dberr.NotFound("history record not found for job "+jobID,
				dberr.WithID("store.history.get.not_found"))
		}
		return nil, dberr.Internal("get_history",
			dberr.WithID("store.history.get.scan"), dberr.WithCause(err))
	}
	return rec, nil
}

func (h *History) List(ctx context.Context, search *model.HistorySearch) (*model.HistoryPage, error) {
	db, err := h.storage.Database()
	if err != nil {
		return nil, dberr.Internal("list_history", dberr.WithCause(err))
	}

	page := search.Page
	if page < 1 {
		page = 1
	}
	size := search.Size
	if size <= 0 {
		size = 20
	}

	offset := (page - 1) * size
	limit := size + 1 // fetch one extra to check has_next

	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	query := psql.
		Select(
			"id", "job_id", "template_id", "template_name", "format",
			"triggered_by", "status", "started_at", "finished_at", "duration_ms",
			"output_size", "artifact_ref", "deliveries", "download_count",
			"error_kind", "error_message", "retention_expires_at",
		).
		From("report_exporter.export_history").
		OrderBy("finished_at DESC").
		Offset(uint64(offset)).
		Limit(uint64(limit))

	if search.TemplateID != "" {
		query = query.Where(sq.Eq{"template_id": search.TemplateID})
	}
	if search.Status != "" {
		query = query.Where(sq.Eq{"status": search.Status})
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, dberr.Internal("list_history",
			dberr.WithID("store.history.list.build"), dberr.WithCause(err))
	}

	rows, err := db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, dberr.Internal("list_history",
			dberr.WithID("store.history.list.query"), dberr.WithCause(err))
	}
	defer rows.Close()

	var records []*model.HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, dberr.Internal("list_history",
				dberr.WithID("store.history.list.scan"), dberr.WithCause(err))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Internal("list_history",
			dberr.WithID("store.history.list.rows"), dberr.WithCause(err))
	}

	hasNext := false
	if int64(len(records)) > size {
		hasNext = true
		records = records[:len(records)-1] // drop the extra record
	}

	return &model.HistoryPage{Page: page, Next: hasNext, Data: records}, nil
}

func (h *History) IncrementDownload(ctx context.Context, jobID string) error {
	db, err := h.storage.Database()
	if err != nil {
		return dberr.Internal("increment_download", dberr.WithCause(err))
	}

	cmd, err := db.Exec(ctx, `
		UPDATE report_exporter.export_history
		SET download_count = download_count + 1
		WHERE job_id = $1
	`, jobID)
	if err != nil {
		return dberr.Internal("increment_download",
			dberr.WithID("store.history.increment_download.exec"), dberr.WithCause(err))
	}
	if cmd.RowsAffected() == 0 {
		return dberr.NotFound("history record not found for job "+jobID,
			dberr.WithID("store.history.increment_download.not_found"))
	}
	return nil
}

func (h *History) UpdateDeliveries(ctx context.Context, jobID string, deliveries []model.Delivery) error {
	db, err := h.storage.Database()
	if err != nil {
		return dberr.Internal("update_deliveries", dberr.WithCause(err))
	}

	payload, err := json.Marshal(deliveries)
	if err != nil {
		return dberr.Internal("deliveries json encoding failed",
			dberr.WithID("store.history.update_deliveries.marshal"), dberr.WithCause(err))
	}

	cmd, err := db.Exec(ctx, `
		UPDATE report_exporter.export_history
		SET deliveries = $1
		WHERE job_id = $2
	`, payload, jobID)
	if err != nil {
		return dberr.Internal("update_deliveries",
			dberr.WithID("store.history.update_deliveries.exec"), dberr.WithCause(err))
	}
	if cmd.RowsAffected() == 0 {
		return dberr.NotFound("history record not found for job "+jobID,
			dberr.WithID("store.history.update_deliveries.not_found"))
	}
	return nil
}

// PurgeExpired removes records past their retention expiry and returns them
// so the caller can delete the artifacts on disk.
func (h *History) PurgeExpired(ctx context.Context, now time.Time) ([]*model.HistoryRecord, error) {
	db, err := h.storage.Database()
	if err != nil {
		return nil, dberr.Internal("purge_expired", dberr.WithCause(err))
	}

	rows, err := db.Query(ctx, `
		DELETE FROM report_exporter.export_history
		WHERE retention_expires_at < $1
		RETURNING `+historyColumns+`
	`, now)
	if err != nil {
		return nil, dberr.Internal("purge_expired",
			dberr.WithID("store.history.purge.query"), dberr.WithCause(err))
	}
	defer rows.Close()

	var purged []*model.HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, dberr.Internal("purge_expired",
				dberr.WithID("store.history.purge.scan"), dberr.WithCause(err))
		}
		purged = append(purged, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Internal("purge_expired",
			dberr.WithID("store.history.purge.rows"), dberr.WithCause(err))
	}
	return purged, nil
}

func scanHistory(row pgx.Row) (*model.HistoryRecord, error) {
	var (
		rec        model.HistoryRecord
		deliveries []byte
		errKind    *string
		errMsg     *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.JobID,
		&rec.TemplateID,
		&rec.TemplateName,
		&rec.Format,
		&rec.TriggeredBy,
		&rec.Status,
		&rec.StartedAt,
		&rec.FinishedAt,
		&rec.DurationMs,
		&rec.OutputSize,
		&rec.ArtifactRef,
		&deliveries,
		&rec.DownloadCount,
		&errKind,
		&errMsg,
		&rec.RetentionExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if len(deliveries) > 0 {
		if err := json.Unmarshal(deliveries, &rec.Deliveries); err != nil {
			return nil, err
		}
	}
	if errKind != nil {
		rec.ErrorKind = dberr.Kind(*errKind)
	}
	if errMsg != nil {
		rec.ErrorMessage = *errMsg
	}
	return &rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
