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

type Template struct {
	storage *Store
}

const templateColumns = `
	id, name, description, format, category, data_fields, filters, schedule,
	recipients, status, retention_days, last_export_at, next_run_at,
	created_at, updated_at, created_by, version
`

func (t *Template) Create(ctx context.Context, tmpl *model.ExportTemplate) error {
	db, err := t.storage.Database()
	if err != nil {
		return dberr.Internal("create_template", dberr.WithCause(err))
	}

	fields, filters, schedule, recipients, err := marshalTemplateJSON(tmpl)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO report_exporter.export_template
			(id, name, description, format, category, data_fields, filters, schedule,
			 recipients, status, retention_days, created_at, updated_at, created_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, $13, 1)
	`
	_, err = db.Exec(ctx, query,
		tmpl.ID,
		tmpl.Name,
		tmpl.Description,
		tmpl.Format,
		tmpl.Category,
		fields,
		filters,
		schedule,
		recipients,
		tmpl.Status,
		tmpl.RetentionDays,
		tmpl.CreatedAt,
		tmpl.CreatedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if dberr.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return dberr.InvalidState("template id already exists",
				dberr.WithID("store.template.create.unique_violation"),
				dberr.WithCause(err))
		}
		return dberr.Internal("create_template",
			dberr.WithID("store.template.create.exec"), dberr.WithCause(err))
	}
	return nil
}

func (t *Template) Get(ctx context.Context, id string) (*model.ExportTemplate, error) {
	db, err := t.storage.Database()
	if err != nil {
		return nil, dberr.Internal("get_template", dberr.WithCause(err))
	}

	row := db.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM report_exporter.export_template
		WHERE id = $1
	`, id)

	tmpl, err := scanTemplate(row)
	if err != nil {
		if dberr.Is(err, pgx.ErrNoRows) {
			return nil, dberr.NotFound("template not found: "+id,
				dberr.WithID("store.template.get.not_found"))
		}
		return nil, dberr.Internal("get_template",
			dberr.WithID("store.template.get.scan"), dberr.WithCause(err))
	}
	return tmpl, nil
}

// Update persists every mutable template field guarded by an optimistic
// version check; concurrent writers lose with InvalidStateError and retry
// from a fresh read.
func (t *Template) Update(ctx context.Context, tmpl *model.ExportTemplate) error {
	db, err := t.storage.Database()
	if err != nil {
		return dberr.Internal("update_template", dberr.WithCause(err))
	}

	fields, filters, schedule, recipients, err := marshalTemplateJSON(tmpl)
	if err != nil {
		return err
	}

	query := `
		UPDATE report_exporter.export_template
		SET name = $1,
		    description = $2,
		    format = $3,
		    data_fields = $4,
		    filters = $5,
		    schedule = $6,
		    recipients = $7,
		    status = $8,
		    retention_days = $9,
		    next_run_at = $10,
		    updated_at = $11,
		    version = version + 1
		WHERE id = $12 AND version = $13
	`
	cmd, err := db.Exec(ctx, query,
		tmpl.Name,
		tmpl.Description,
		tmpl.Format,
		fields,
		filters,
		schedule,
		recipients,
		tmpl.Status,
		tmpl.RetentionDays,
		tmpl.NextRunAt,
		time.Now(),
		tmpl.ID,
		tmpl.Version,
	)
	if err != nil {
		return dberr.Internal("update_template",
			dberr.WithID("store.template.update.exec"), dberr.WithCause(err))
	}
	if cmd.RowsAffected() == 0 {
		return dberr.InvalidState("template was modified concurrently: "+tmpl.ID,
			dberr.WithID("store.template.update.version_conflict"))
	}
	tmpl.Version++
	return nil
}

func (t *Template) List(ctx context.Context, status model.TemplateStatus) ([]*model.ExportTemplate, error) {
	db, err := t.storage.Database()
	if err != nil {
		return nil, dberr.Internal("list_templates", dberr.WithCause(err))
	}

	query := `SELECT ` + templateColumns + ` FROM report_exporter.export_template`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, dberr.Internal("list_templates",
			dberr.WithID("store.template.list.query"), dberr.WithCause(err))
	}
	defer rows.Close()

	return collectTemplates(rows)
}

// ListDue returns active templates with an active schedule whose cached
// next_run_at has been reached. Archived templates never match because the
// status predicate is evaluated in the same statement.
func (t *Template) ListDue(ctx context.Context, now time.Time) ([]*model.ExportTemplate, error) {
	db, err := t.storage.Database()
	if err != nil {
		return nil, dberr.Internal("list_due_templates", dberr.WithCause(err))
	}

	rows, err := db.Query(ctx, `
		SELECT `+templateColumns+`
		FROM report_exporter.export_template
		WHERE status = $1
		  AND schedule IS NOT NULL
		  AND (schedule ->> 'active')::boolean
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $2
		ORDER BY next_run_at
	`, model.TemplateActive, now)
	if err != nil {
		return nil, dberr.Internal("list_due_templates",
			dberr.WithID("store.template.list_due.query"), dberr.WithCause(err))
	}
	defer rows.Close()

	return collectTemplates(rows)
}

func (t *Template) RecordExecution(ctx context.Context, id string, lastExport time.Time, nextRun *time.Time) error {
	db, err := t.storage.Database()
	if err != nil {
		return dberr.Internal("record_execution", dberr.WithCause(err))
	}

	cmd, err := db.Exec(ctx, `
		UPDATE report_exporter.export_template
		SET last_export_at = $1,
		    next_run_at = $2,
		    updated_at = $1
		WHERE id = $3
	`, lastExport, nextRun, id)
	if err != nil {
		return dberr.Internal("record_execution",
			dberr.WithID("store.template.record_execution.exec"), dberr.WithCause(err))
	}
	if cmd.RowsAffected() == 0 {
		return dberr.NotFound("template not found: "+id,
			dberr.WithID("store.template.record_execution.not_found"))
	}
	return nil
}

// AdvanceNextRun moves a schedule forward without touching last_export_at.
// Used after failed scheduled runs so a broken template does not become due
// again on the very next tick.
func (t *Template) AdvanceNextRun(ctx context.Context, id string, nextRun *time.Time) error {
	db, err := t.storage.Database()
	if err != nil {
		return dberr.Internal("advance_next_run", dberr.WithCause(err))
	}

	cmd, err := db.Exec(ctx, `
		UPDATE report_exporter.export_template
		SET next_run_at = $1,
		    updated_at = $2
		WHERE id = $3
	`, nextRun, time.Now(), id)
	if err != nil {
		return dberr.Internal("advance_next_run",
			dberr.WithID("store.template.advance_next_run.exec"), dberr.WithCause(err))
	}
	if cmd.RowsAffected() == 0 {
		return dberr.NotFound("template not found: "+id,
			dberr.WithID("store.template.advance_next_run.not_found"))
	}
	return nil
}

func marshalTemplateJSON(tmpl *model.ExportTemplate) (fields, filters, schedule, recipients []byte, err error) {
	fields, err = json.Marshal(tmpl.DataFields)
	if err == nil {
		filters, err = json.Marshal(tmpl.Filters)
	}
	if err == nil {
		recipients, err = json.Marshal(tmpl.Recipients)
	}
	if err == nil && tmpl.Schedule != nil {
		schedule, err = json.Marshal(tmpl.Schedule)
	}
	if err != nil {
		return nil, nil, nil, nil, dberr.Internal("template json encoding failed",
			dberr.WithID("store.template.marshal"), dberr.WithCause(err))
	}
	return fields, filters, schedule, recipients, nil
}

func scanTemplate(row pgx.Row) (*model.ExportTemplate, error) {
	var (
		tmpl       model.ExportTemplate
		fields     []byte
		filters    []byte
		schedule   []byte
		recipients []byte
	)
	err := row.Scan(
		&tmpl.ID,
		&tmpl.Name,
		&tmpl.Description,
		&tmpl.Format,
		&tmpl.Category,
		&fields,
		&filters,
		&schedule,
		&recipients,
		&tmpl.Status,
		&tmpl.RetentionDays,
		&tmpl.LastExportAt,
		&tmpl.NextRunAt,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
		&tmpl.CreatedBy,
		&tmpl.Version,
	)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &tmpl.DataFields); err != nil {
			return nil, err
		}
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &tmpl.Filters); err != nil {
			return nil, err
		}
	}
	if len(schedule) > 0 {
		tmpl.Schedule = &model.Schedule{}
		if err := json.Unmarshal(schedule, tmpl.Schedule); err != nil {
			return nil, err
		}
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &tmpl.Recipients); err != nil {
			return nil, err
		}
	}
	return &tmpl, nil
}

func collectTemplates(rows pgx.Rows) ([]*model.ExportTemplate, error) {
	var out []*model.ExportTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, dberr.Internal("scan_template",
				dberr.WithID("store.template.collect.scan"), dberr.WithCause(err))
		}
		out = append(out, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Internal("scan_template",
			dberr.WithID("store.template.collect.rows"), dberr.WithCause(err))
	}
	return out, nil
}
