package datasource

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

// PoolProvider hands out the live connection pool. The postgres store
// implements it, so the data source can be wired before the pool is opened.
type PoolProvider interface {
	Database() (*pgxpool.Pool, error)
}

// Postgres reads export rows from one source view per template category.
// The view mapping comes from configuration so deployments can point
// categories at their own reporting views.
type Postgres struct {
	provider PoolProvider
	views    map[model.Category]string
}

func NewPostgres(provider PoolProvider, views map[model.Category]string) (*Postgres, error) {
	if provider == nil {
		return nil, errors.Internal("datasource pool provider is nil",
			errors.WithID("datasource.postgres.new.nil_provider"))
	}
	return &Postgres{provider: provider, views: views}, nil
}

func (p *Postgres) Query(ctx context.Context, category model.Category, filters []model.Filter, fields []string) ([]model.Row, error) {
	view, ok := p.views[category]
	if !ok {
		return nil, errors.DataSource("no source view configured for category "+string(category),
			errors.WithID("datasource.postgres.query.unknown_category"))
	}
	if len(fields) == 0 {
		return nil, errors.DataSource("no fields requested",
			errors.WithID("datasource.postgres.query.no_fields"))
	}

	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	query := psql.Select(fields...).From(view)

	for _, f := range filters {
		pred, err := predicate(f)
		if err != nil {
			return nil, err
		}
		query = query.Where(pred)
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.DataSource("query build failed",
			errors.WithID("datasource.postgres.query.build"), errors.WithCause(err))
	}

	pool, err := p.provider.Database()
	if err != nil {
		return nil, errors.DataSource("source connection unavailable",
			errors.WithID("datasource.postgres.query.pool"), errors.WithCause(err))
	}

	rows, err := pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.DataSource("source query failed",
			errors.WithID("datasource.postgres.query.exec"), errors.WithCause(err))
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.DataSource("row read failed",
				errors.WithID("datasource.postgres.query.values"), errors.WithCause(err))
		}
		row := make(model.Row, len(fields))
		for i, field := range fields {
			if i < len(values) {
				row[field] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DataSource("row iteration failed",
			errors.WithID("datasource.postgres.query.rows"), errors.WithCause(err))
	}
	return out, nil
}

// predicate translates one template filter into a squirrel expression.
func predicate(f model.Filter) (sq.Sqlizer, error) {
	switch f.Op {
	case model.OpEquals:
		return sq.Eq{f.Field: f.Value}, nil
	case model.OpContains:
		s, ok := f.Value.(string)
		if !ok {
			return nil, errors.DataSource("contains operand must be a string",
				errors.WithID("datasource.postgres.predicate.contains"))
		}
		return sq.ILike{f.Field: fmt.Sprintf("%%%s%%", s)}, nil
	case model.OpGreaterThan:
		return sq.Gt{f.Field: f.Value}, nil
	case model.OpLessThan:
		return sq.Lt{f.Field: f.Value}, nil
	case model.OpBetween:
		pair, ok := f.Value.([]any)
		if !ok || len(pair) != 2 {
			return nil, errors.DataSource("between operand must hold two values",
				errors.WithID("datasource.postgres.predicate.between"))
		}
		return sq.And{
			sq.GtOrEq{f.Field: pair[0]},
			sq.LtOrEq{f.Field: pair[1]},
		}, nil
	case model.OpIn:
		list, ok := f.Value.([]any)
		if !ok || len(list) == 0 {
			return nil, errors.DataSource("in operand must hold at least one value",
				errors.WithID("datasource.postgres.predicate.in"))
		}
		return sq.Eq{f.Field: list}, nil
	default:
		return nil, errors.DataSource("unknown filter operator: "+string(f.Op),
			errors.WithID("datasource.postgres.predicate.op"))
	}
}
