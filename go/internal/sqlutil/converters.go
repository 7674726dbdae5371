package sqlutil

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Helper functions for moving values between Go types and Postgres columns.
// Numeric columns travel as text so no precision is lost on either side.

// ToNullUUID converts a Go UUID pointer to uuid.NullUUID
func ToNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{Valid: false}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// FromNullUUID converts uuid.NullUUID to Go UUID pointer
func FromNullUUID(val uuid.NullUUID) *uuid.UUID {
	if !val.Valid {
		return nil
	}
	id := val.UUID
	return &id
}

// ToNumeric renders a decimal for a `$n::text::numeric` parameter.
func ToNumeric(d decimal.Decimal) string {
	return d.String()
}

// FromNumeric parses a `col::text` numeric column.
func FromNumeric(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}
