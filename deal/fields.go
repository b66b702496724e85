/*
fields.go - Editable scalar fields and typed values

PURPOSE:
  Field overrides are keyed by a closed set of field names and carry values
  of a fixed kind per field. This replaces loosely typed "any by string key"
  payloads: a value of the wrong kind cannot be applied to a transaction.

FIELD KINDS:
  text:  client_name, company_id, business_unit, region, sale_type
  int:   term_months
  money: mrc, nrc, previous_mrc

SEE ALSO:
  - overlay.go: Effective() reads through overrides using Get()
  - action.go: UpdateField / UpdateFields carry these values
*/
package deal

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Field string

const (
	FieldClientName   Field = "client_name"
	FieldCompanyID    Field = "company_id"
	FieldBusinessUnit Field = "business_unit"
	FieldTermMonths   Field = "term_months"
	FieldMRC          Field = "mrc"
	FieldNRC          Field = "nrc"
	FieldRegion       Field = "region"
	FieldSaleType     Field = "sale_type"
	FieldPreviousMRC  Field = "previous_mrc"
)

type Kind int

const (
	KindText Kind = iota + 1
	KindInt
	KindMoney
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindMoney:
		return "money"
	}
	return "unknown"
}

var fieldKinds = map[Field]Kind{
	FieldClientName:   KindText,
	FieldCompanyID:    KindText,
	FieldBusinessUnit: KindText,
	FieldTermMonths:   KindInt,
	FieldMRC:          KindMoney,
	FieldNRC:          KindMoney,
	FieldRegion:       KindText,
	FieldSaleType:     KindText,
	FieldPreviousMRC:  KindMoney,
}

// KindOf returns the kind of f, or false if f is not an editable field.
func KindOf(f Field) (Kind, bool) {
	k, ok := fieldKinds[f]
	return k, ok
}

// =============================================================================
// VALUE - a tagged scalar
// =============================================================================

// Value is a field value of exactly one kind. The zero Value is invalid.
type Value struct {
	kind  Kind
	text  string
	n     int
	money Money
}

func Text(s string) Value      { return Value{kind: KindText, text: s} }
func Int(n int) Value          { return Value{kind: KindInt, n: n} }
func MoneyValue(m Money) Value { return Value{kind: KindMoney, money: m} }
func (v Value) Kind() Kind     { return v.kind }
func (v Value) Text() string   { return v.text }
func (v Value) Int() int       { return v.n }
func (v Value) Money() Money   { return v.money }

// Equal compares two values of the same kind.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindText:
		return v.text == o.text
	case KindInt:
		return v.n == o.n
	case KindMoney:
		return v.money.Equal(o.money)
	}
	return true
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindText:
		return json.Marshal(v.text)
	case KindInt:
		return json.Marshal(v.n)
	case KindMoney:
		return json.Marshal(v.money)
	}
	return []byte("null"), nil
}

// DecodeValue parses raw JSON into a value of the kind f expects.
func DecodeValue(f Field, raw json.RawMessage) (Value, error) {
	kind, ok := KindOf(f)
	if !ok {
		return Value{}, &ValidationError{Field: f, Message: "unknown field"}
	}
	switch kind {
	case KindText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, &ValidationError{Field: f, Message: "expected text"}
		}
		return Text(s), nil
	case KindInt:
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return Value{}, &ValidationError{Field: f, Message: "expected integer"}
		}
		return Int(n), nil
	default:
		var m Money
		if err := json.Unmarshal(raw, &m); err != nil {
			return Value{}, &ValidationError{Field: f, Message: "expected {amount, currency}"}
		}
		return MoneyValue(m), nil
	}
}

// =============================================================================
// TRANSACTION ACCESSORS
// =============================================================================

// Get returns the value of f on t. previous_mrc reports false when unset.
func (t Transaction) Get(f Field) (Value, bool) {
	switch f {
	case FieldClientName:
		return Text(t.ClientName), true
	case FieldCompanyID:
		return Text(t.CompanyID), true
	case FieldBusinessUnit:
		return Text(t.BusinessUnit), true
	case FieldTermMonths:
		return Int(t.TermMonths), true
	case FieldMRC:
		return MoneyValue(t.MRC), true
	case FieldNRC:
		return MoneyValue(t.NRC), true
	case FieldRegion:
		return Text(t.Region), true
	case FieldSaleType:
		return Text(t.SaleType), true
	case FieldPreviousMRC:
		if t.PreviousMRC == nil {
			return Value{}, false
		}
		return MoneyValue(*t.PreviousMRC), true
	}
	return Value{}, false
}

// Set writes v into f on t. The kind of v must match the field.
func (t *Transaction) Set(f Field, v Value) error {
	if err := checkKind(f, v); err != nil {
		return err
	}
	switch f {
	case FieldClientName:
		t.ClientName = v.text
	case FieldCompanyID:
		t.CompanyID = v.text
	case FieldBusinessUnit:
		t.BusinessUnit = v.text
	case FieldTermMonths:
		t.TermMonths = v.n
	case FieldMRC:
		t.MRC = v.money
	case FieldNRC:
		t.NRC = v.money
	case FieldRegion:
		t.Region = v.text
	case FieldSaleType:
		t.SaleType = v.text
	case FieldPreviousMRC:
		m := v.money
		t.PreviousMRC = &m
	}
	return nil
}

func checkKind(f Field, v Value) error {
	kind, ok := KindOf(f)
	if !ok {
		return &ValidationError{Field: f, Message: "unknown field"}
	}
	if v.kind != kind {
		return &ValidationError{Field: f, Message: fmt.Sprintf("expected %s value, got %s", kind, v.kind)}
	}
	return nil
}

// ValidateValue applies the per-field input rules editors enforce before
// an edit is dispatched.
func ValidateValue(f Field, v Value) error {
	if err := checkKind(f, v); err != nil {
		return err
	}
	switch f {
	case FieldTermMonths:
		if v.n <= 0 {
			return &ValidationError{Field: f, Message: "term must be at least one month"}
		}
	case FieldMRC, FieldNRC, FieldPreviousMRC:
		if v.money.Amount.IsNegative() {
			return &ValidationError{Field: f, Message: "amount cannot be negative"}
		}
		if !v.money.Currency.Valid() {
			return &ValidationError{Field: f, Message: fmt.Sprintf("unsupported currency %q", v.money.Currency)}
		}
	case FieldBusinessUnit, FieldClientName:
		if strings.TrimSpace(v.text) == "" {
			return &ValidationError{Field: f, Message: "required"}
		}
	}
	return nil
}
