package model

import (
	"time"

	"github.com/clinicore/report-exporter/internal/errors"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

func (f Format) Valid() bool {
	switch f {
	case FormatPDF, FormatXLSX, FormatCSV, FormatJSON:
		return true
	}
	return false
}

// Mime returns the content type served on artifact download.
func (f Format) Mime() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func (f Format) Ext() string {
	if !f.Valid() {
		return ""
	}
	return "." + string(f)
}

type Category string

const (
	CategoryClinical    Category = "clinical"
	CategoryFinancial   Category = "financial"
	CategoryOperational Category = "operational"
	CategoryCustom      Category = "custom"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryClinical, CategoryFinancial, CategoryOperational, CategoryCustom:
		return true
	}
	return false
}

type TemplateStatus string

const (
	TemplateDraft    TemplateStatus = "draft"
	TemplateActive   TemplateStatus = "active"
	TemplateArchived TemplateStatus = "archived"
)

type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// Schedule is the recurrence rule attached to a template.
// DayOfWeek is required for weekly, DayOfMonth for monthly/quarterly.
type Schedule struct {
	Frequency  Frequency `json:"frequency"`
	DayOfWeek  *int      `json:"day_of_week,omitempty"`
	DayOfMonth *int      `json:"day_of_month,omitempty"`
	TimeOfDay  string    `json:"time_of_day"`
	Active     bool      `json:"active"`
}

func (s *Schedule) Validate() error {
	switch s.Frequency {
	case FrequencyDaily:
	case FrequencyWeekly:
		if s.DayOfWeek == nil || *s.DayOfWeek < 0 || *s.DayOfWeek > 6 {
			return errors.Validation("weekly schedule requires day_of_week in [0,6]",
				errors.WithID("model.schedule.validate.day_of_week"))
		}
	case FrequencyMonthly, FrequencyQuarterly:
		if s.DayOfMonth == nil || *s.DayOfMonth < 1 || *s.DayOfMonth > 31 {
			return errors.Validation("monthly/quarterly schedule requires day_of_month in [1,31]",
				errors.WithID("model.schedule.validate.day_of_month"))
		}
	default:
		return errors.Validation("unknown frequency: "+string(s.Frequency),
			errors.WithID("model.schedule.validate.frequency"))
	}
	if _, err := time.Parse("15:04", s.TimeOfDay); err != nil {
		return errors.Validation("time_of_day must be HH:MM",
			errors.WithID("model.schedule.validate.time_of_day"),
			errors.WithCause(err))
	}
	return nil
}

// TimeOfDayClock parses TimeOfDay into hour and minute.
// Validate must have been called first.
func (s *Schedule) TimeOfDayClock() (hour, min int) {
	t, err := time.Parse("15:04", s.TimeOfDay)
	if err != nil {
		return 0, 0
	}
	return t.Hour(), t.Minute()
}

// ExportTemplate is the reusable export definition owned by the registry.
type ExportTemplate struct {
	ID            string         `json:"id" db:"id"`
	Name          string         `json:"name" db:"name"`
	Description   string         `json:"description,omitempty" db:"description"`
	Format        Format         `json:"format" db:"format"`
	Category      Category       `json:"category" db:"category"`
	DataFields    []string       `json:"data_fields" db:"data_fields"`
	Filters       []Filter       `json:"filters,omitempty" db:"filters"`
	Schedule      *Schedule      `json:"schedule,omitempty" db:"schedule"`
	Recipients    []string       `json:"recipients,omitempty" db:"recipients"`
	Status        TemplateStatus `json:"status" db:"status"`
	RetentionDays int            `json:"retention_days" db:"retention_days"`
	LastExportAt  *time.Time     `json:"last_export_at,omitempty" db:"last_export_at"`
	NextRunAt     *time.Time     `json:"next_run_at,omitempty" db:"next_run_at"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
	CreatedBy     string         `json:"created_by,omitempty" db:"created_by"`
	Version       int            `json:"-" db:"version"`
}

// ValidateDraft checks the rules enforced on create.
func (t *ExportTemplate) ValidateDraft() error {
	if t.Name == "" {
		return errors.Validation("name is required",
			errors.WithID("model.template.validate.name"))
	}
	if !t.Format.Valid() {
		return errors.Validation("unsupported format: "+string(t.Format),
			errors.WithID("model.template.validate.format"))
	}
	if !t.Category.Valid() {
		return errors.Validation("unknown category: "+string(t.Category),
			errors.WithID("model.template.validate.category"))
	}
	if len(t.DataFields) == 0 && t.Category != CategoryCustom {
		return errors.Validation("data_fields must be non-empty for category "+string(t.Category),
			errors.WithID("model.template.validate.data_fields"))
	}
	for i := range t.Filters {
		if err := t.Filters[i].Validate(t.Category); err != nil {
			return err
		}
	}
	if t.Schedule != nil {
		if err := t.Schedule.Validate(); err != nil {
			return err
		}
	}
	if t.RetentionDays < 0 {
		return errors.Validation("retention_days must not be negative",
			errors.WithID("model.template.validate.retention"))
	}
	return nil
}

// ValidateForActivation checks the rules enforced on draft -> active.
func (t *ExportTemplate) ValidateForActivation() error {
	if len(t.DataFields) == 0 {
		return errors.InvalidState("cannot activate template without data fields",
			errors.WithID("model.template.activate.data_fields"))
	}
	if t.Schedule != nil {
		if err := t.Schedule.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Scheduled reports whether the template participates in the scheduler loop.
func (t *ExportTemplate) Scheduled() bool {
	return t.Status == TemplateActive && t.Schedule != nil && t.Schedule.Active
}
