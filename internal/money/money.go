// Package money provides fixed-point decimal values for every persisted
// price, volume, and rate column. Floating binary is never used for
// persisted values: cross-exchange symbol prices range over roughly
// eighteen orders of magnitude, and binary floats round unpredictably at
// the extremes.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Precision widths from §3: prices 30/18, volumes 40/18, rates 20/18. The
// width only bounds storage-side column definitions (see
// migrations/0001_schema.sql); in Go, decimal.Decimal carries arbitrary
// precision and the width is enforced at the database boundary.
const (
	PricePrecision  = 18
	VolumePrecision = 18
	RatePrecision   = 18
)

// Optional wraps a decimal.Decimal that may be absent. Absent is distinct
// from zero: a funding point with no mark price reported is Optional{},
// not Optional{Value: 0, Valid: true}. This is the type every coalesce
// comparison (§4.1) operates on.
type Optional struct {
	Value decimal.Decimal
	Valid bool
}

// Some wraps a present value.
func Some(d decimal.Decimal) Optional { return Optional{Value: d, Valid: true} }

// None represents an absent value.
func None() Optional { return Optional{} }

// FromString parses s into a present Optional, or returns None with an
// error if s isn't empty but fails to parse. An empty string is treated as
// absent, matching how exchange feeds omit a field rather than sending "".
func FromString(s string) (Optional, error) {
	if s == "" {
		return None(), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return None(), fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Some(d), nil
}

// FromFloat builds a present Optional from a float64. Only safe for values
// that did not originate as a JSON number from an untrusted feed — prefer
// FromString when the source is a raw wire field.
func FromFloat(f float64) Optional { return Some(decimal.NewFromFloat(f)) }

// Coalesce implements the asymmetric upsert rule of §4.1 for
// funding/open-interest columns: an incoming present value always wins; an
// absent incoming value keeps whatever is already stored.
func (o Optional) Coalesce(existing Optional) Optional {
	if o.Valid {
		return o
	}
	return existing
}

func (o Optional) String() string {
	if !o.Valid {
		return "<absent>"
	}
	return o.Value.String()
}

// MarshalJSON renders the wire format from §6: numeric values are JSON
// strings, absent values are null.
func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value.String())
}

// UnmarshalJSON accepts a JSON string or null.
func (o *Optional) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = None()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := FromString(s)
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Value implements driver.Valuer so Optional can be passed directly as a
// sqlx bind parameter: absent becomes SQL NULL.
func (o Optional) Value() (driver.Value, error) {
	if !o.Valid {
		return nil, nil
	}
	return o.Value.String(), nil
}

// Scan implements sql.Scanner so Optional can be read directly out of a
// sqlx row: SQL NULL becomes an absent Optional.
func (o *Optional) Scan(src interface{}) error {
	if src == nil {
		*o = None()
		return nil
	}
	switch v := src.(type) {
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("money: scan %q: %w", v, err)
		}
		*o = Some(d)
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("money: scan %q: %w", v, err)
		}
		*o = Some(d)
	default:
		return fmt.Errorf("money: unsupported scan source type %T", src)
	}
	return nil
}
