package model

import (
	"fmt"
	"time"

	"github.com/clinicore/report-exporter/internal/errors"
)

type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldDate   FieldType = "date"
	FieldBool   FieldType = "bool"
)

// FieldDef describes one exportable column of a source view.
type FieldDef struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// fieldCatalog lists the exportable fields per category. Templates in the
// custom category bypass the catalog and may reference any field of their
// configured source view.
var fieldCatalog = map[Category][]FieldDef{
	CategoryClinical: {
		{Name: "patient_id", Type: FieldString},
		{Name: "patient_name", Type: FieldString},
		{Name: "practitioner", Type: FieldString},
		{Name: "visit_date", Type: FieldDate},
		{Name: "diagnosis_code", Type: FieldString},
		{Name: "treatment", Type: FieldString},
		{Name: "follow_up", Type: FieldBool},
	},
	CategoryFinancial: {
		{Name: "invoice_id", Type: FieldString},
		{Name: "patient_id", Type: FieldString},
		{Name: "name", Type: FieldString},
		{Name: "amount", Type: FieldNumber},
		{Name: "insurance_share", Type: FieldNumber},
		{Name: "issued_at", Type: FieldDate},
		{Name: "paid", Type: FieldBool},
	},
	CategoryOperational: {
		{Name: "appointment_id", Type: FieldString},
		{Name: "room", Type: FieldString},
		{Name: "scheduled_at", Type: FieldDate},
		{Name: "duration_min", Type: FieldNumber},
		{Name: "no_show", Type: FieldBool},
	},
}

// FieldFor resolves a field definition within a category's catalog.
func FieldFor(cat Category, name string) (FieldDef, bool) {
	for _, def := range fieldCatalog[cat] {
		if def.Name == name {
			return def, true
		}
	}
	return FieldDef{}, false
}

type FilterOp string

const (
	OpEquals      FilterOp = "equals"
	OpContains    FilterOp = "contains"
	OpGreaterThan FilterOp = "greater_than"
	OpLessThan    FilterOp = "less_than"
	OpBetween     FilterOp = "between"
	OpIn          FilterOp = "in"
)

func (op FilterOp) Valid() bool {
	switch op {
	case OpEquals, OpContains, OpGreaterThan, OpLessThan, OpBetween, OpIn:
		return true
	}
	return false
}

// Filter restricts the rows a template exports.
type Filter struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value"`
}

// Validate checks the operator and, for cataloged categories, that the field
// exists and the operand type matches its declared type.
func (f *Filter) Validate(cat Category) error {
	if !f.Op.Valid() {
		return errors.Validation("unknown filter operator: "+string(f.Op),
			errors.WithID("model.filter.validate.op"))
	}
	if f.Field == "" {
		return errors.Validation("filter field is required",
			errors.WithID("model.filter.validate.field"))
	}
	if cat == CategoryCustom {
		return nil
	}
	def, ok := FieldFor(cat, f.Field)
	if !ok {
		return errors.Validation(
			fmt.Sprintf("filter references unknown field %q for category %s", f.Field, cat),
			errors.WithID("model.filter.validate.unknown_field"))
	}
	return f.validateOperand(def)
}

func (f *Filter) validateOperand(def FieldDef) error {
	mismatch := func() error {
		return errors.Validation(
			fmt.Sprintf("filter value for field %q is not compatible with type %s", f.Field, def.Type),
			errors.WithID("model.filter.validate.operand_type"))
	}
	switch f.Op {
	case OpContains:
		if def.Type != FieldString {
			return errors.Validation("contains is only allowed on string fields",
				errors.WithID("model.filter.validate.contains"))
		}
		if _, ok := f.Value.(string); !ok {
			return mismatch()
		}
	case OpGreaterThan, OpLessThan:
		if def.Type != FieldNumber && def.Type != FieldDate {
			return errors.Validation(string(f.Op)+" is only allowed on number or date fields",
				errors.WithID("model.filter.validate.ordering"))
		}
		if !operandMatches(def.Type, f.Value) {
			return mismatch()
		}
	case OpBetween:
		pair, ok := asSlice(f.Value)
		if !ok || len(pair) != 2 {
			return errors.Validation("between requires exactly two operands",
				errors.WithID("model.filter.validate.between"))
		}
		for _, v := range pair {
			if !operandMatches(def.Type, v) {
				return mismatch()
			}
		}
	case OpIn:
		list, ok := asSlice(f.Value)
		if !ok || len(list) == 0 {
			return errors.Validation("in requires a non-empty list of operands",
				errors.WithID("model.filter.validate.in"))
		}
		for _, v := range list {
			if !operandMatches(def.Type, v) {
				return mismatch()
			}
		}
	case OpEquals:
		if !operandMatches(def.Type, f.Value) {
			return mismatch()
		}
	}
	return nil
}

// operandMatches checks a single operand against a declared field type.
// JSON-decoded payloads carry numbers as float64 and dates as strings.
func operandMatches(ft FieldType, v any) bool {
	switch ft {
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldBool:
		_, ok := v.(bool)
		return ok
	case FieldNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case FieldDate:
		switch d := v.(type) {
		case time.Time:
			return true
		case string:
			if _, err := time.Parse(time.RFC3339, d); err == nil {
				return true
			}
			_, err := time.Parse("2006-01-02", d)
			return err == nil
		}
		return false
	}
	return false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}
