package app

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OptionalString remembers whether a JSON key was present at all, which a
// plain *string cannot: both an absent key and an explicit null decode to nil.
type OptionalString struct {
	Set   bool
	Valid bool
	Value string
}

// UnmarshalJSON is only invoked when the key exists in the payload.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		o.Valid = false
		o.Value = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Valid = true
		o.Value = s
		return nil
	}
	// A bare number is accepted and kept as its text.
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("season_number must be a string, number or null")
	}
	o.Valid = true
	o.Value = n.String()
	return nil
}

// Some returns a present, non-null value.
func Some(v string) OptionalString {
	return OptionalString{Set: true, Valid: true, Value: v}
}

// Null returns a present JSON null.
func Null() OptionalString {
	return OptionalString{Set: true}
}

// SubmitInput is the wish creation payload.
type SubmitInput struct {
	CatalogID      int64          `json:"tmdb_id"`
	CatalogKind    string         `json:"tmdb_type"`
	Title          string         `json:"original_title"`
	ReleaseYear    *string        `json:"release_year"`
	PosterRef      *string        `json:"poster_path"`
	SeasonSelector OptionalString `json:"season_number"`
}
