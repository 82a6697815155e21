package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	conf "github.com/clinicore/report-exporter/config"
	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/store"
)

// Store is the struct implementing the Store interface.
type Store struct {
	templateStore store.TemplateStore
	jobStore      store.JobStore
	historyStore  store.HistoryStore
	config        *conf.DatabaseConfig
	conn          *pgxpool.Pool
}

// New creates a new Store instance.
func New(config *conf.DatabaseConfig) *Store {
	return &Store{config: config}
}

func (s *Store) Template() store.TemplateStore {
	if s.templateStore == nil {
		s.templateStore = &Template{storage: s}
	}
	return s.templateStore
}

func (s *Store) Job() store.JobStore {
	if s.jobStore == nil {
		s.jobStore = &Job{storage: s}
	}
	return s.jobStore
}

func (s *Store) History() store.HistoryStore {
	if s.historyStore == nil {
		s.historyStore = &History{storage: s}
	}
	return s.historyStore
}

// Database returns the database connection or a custom error if it is not opened.
func (s *Store) Database() (*pgxpool.Pool, error) {
	if s.conn == nil {
		return nil, errors.Internal("database connection is not opened",
			errors.WithID("store.database.not_opened"))
	}
	return s.conn, nil
}

// Open establishes a connection to the database.
func (s *Store) Open() error {
	config, err := pgxpool.ParseConfig(s.config.Url)
	if err != nil {
		return errors.Internal("postgres: invalid connection url",
			errors.WithID("store.open.parse_config"), errors.WithCause(err))
	}

	conn, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return errors.Internal("postgres: unable to create pool",
			errors.WithID("store.open.new_pool"), errors.WithCause(err))
	}
	s.conn = conn
	slog.Debug("report_exporter.store.connection_opened")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		s.conn.Close()
		slog.Debug("report_exporter.store.connection_closed")
		s.conn = nil
	}
	return nil
}
