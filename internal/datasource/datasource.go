// Package datasource is the boundary to the clinical/financial data the
// templates export. The executor only depends on the DataSource interface;
// the postgres implementation queries per-category source views.
package datasource

import (
	"context"

	"github.com/clinicore/report-exporter/internal/model"
)

type DataSource interface {
	Query(ctx context.Context, category model.Category, filters []model.Filter, fields []string) ([]model.Row, error)
}
