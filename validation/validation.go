package validation

import (
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Basic validators
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
	}
}

func RequiredID(field string, id uint, v Violations) {
	if id == 0 {
		v[field] = "required"
	}
}

func Email(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
		return
	}
	if _, err := mail.ParseAddress(value); err != nil {
		v[field] = "invalid_email"
	}
}

func MinLength(field, value string, n int, v Violations) {
	if len(value) < n {
		v[field] = "too_short"
	}
}

func PositiveInt(field string, val int, v Violations) {
	if val <= 0 {
		v[field] = "must_be_positive"
	}
}

func PositiveFloat(field string, val float64, v Violations) {
	if val <= 0 {
		v[field] = "must_be_positive"
	}
}

func RangeFloat(field string, val, minVal, maxVal float64, v Violations) {
	if val < minVal || val > maxVal {
		v[field] = "out_of_range"
	}
}

func NonNegativeDecimal(field string, val decimal.Decimal, v Violations) {
	if val.IsNegative() {
		v[field] = "must_not_be_negative"
	}
}

func RangeDecimal(field string, val decimal.Decimal, minVal, maxVal int64, v Violations) {
	if val.LessThan(decimal.NewFromInt(minVal)) || val.GreaterThan(decimal.NewFromInt(maxVal)) {
		v[field] = "out_of_range"
	}
}

// OneOf accepts an empty value; combine with Required when it is mandatory.
func OneOf[T ~string](field string, val T, allowed []T, v Violations) {
	if val == "" {
		return
	}
	if !slices.Contains(allowed, val) {
		v[field] = "invalid_value"
	}
}

func After(field string, start, end time.Time, v Violations) {
	if !end.After(start) {
		v[field] = "must_be_after_start"
	}
}
