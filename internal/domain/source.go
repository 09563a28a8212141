package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Source identifies where the points of a boost came from
type Source uint8

// Point sources. The zero value is invalid so an unset field never passes validation.
const (
	SourceUnknown         Source = iota
	SourceSubscription           // Daily allowance from the wallet
	SourceInstantPurchase        // One-time paid bundle
)

var sourceNames = map[Source]string{
	SourceSubscription:    "subscription",
	SourceInstantPurchase: "instant_purchase",
}

// ParseSource converts a wire name into a Source
func ParseSource(s string) (Source, error) {
	for src, name := range sourceNames {
		if name == s {
			return src, nil
		}
	}
	return SourceUnknown, fmt.Errorf("%w: %q", ErrInvalidSource, s)
}

// String returns the wire name of the source
func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether s is a known source
func (s Source) Valid() bool {
	_, ok := sourceNames[s]
	return ok
}

// Value stores the source as its wire name
func (s Source) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSource, s)
	}
	return s.String(), nil
}

// Scan reads the source from its wire name
func (s *Source) Scan(src any) error {
	var name string
	switch v := src.(type) {
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidSource, src)
	}
	parsed, err := ParseSource(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalJSON encodes the source as its wire name
func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the source from its wire name
func (s *Source) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseSource(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// GormDataType keeps the column a string in every dialect
func (Source) GormDataType() string {
	return "varchar(20)"
}
