package validate

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type ErrField struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

type Errs []ErrField

func (e Errs) Error() string {
	var b strings.Builder
	for i, ef := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ef.Field + ": " + ef.Msg)
	}
	return b.String()
}

// Add appends ef when it is not nil.
func (e *Errs) Add(ef *ErrField) {
	if ef != nil {
		*e = append(*e, *ef)
	}
}

func Required(field, value string) *ErrField {
	if strings.TrimSpace(value) == "" {
		return &ErrField{Field: field, Msg: "required"}
	}
	return nil
}

func MinInt(field string, v, min int64) *ErrField {
	if v < min {
		return &ErrField{Field: field, Msg: "must be >= " + strconv.FormatInt(min, 10)}
	}
	return nil
}

// MaxExp rejects amounts with more fractional digits than the ledger stores.
func MaxExp(field string, d decimal.Decimal, scale int32) *ErrField {
	if -d.Exponent() > scale && !d.Equal(d.Truncate(scale)) {
		return &ErrField{Field: field, Msg: "more than " + strconv.Itoa(int(scale)) + " decimal places"}
	}
	return nil
}

// MaxDigits rejects amounts with more integer digits than the ledger stores.
func MaxDigits(field string, d decimal.Decimal, digits int32) *ErrField {
	if d.Abs().GreaterThanOrEqual(decimal.New(1, digits)) {
		return &ErrField{Field: field, Msg: "more than " + strconv.Itoa(int(digits)) + " integer digits"}
	}
	return nil
}
