package lastfm

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// oneOrMany decodes a JSON list, or a single object as a one-element list.
// The API collapses single-entry lists into a bare object.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*o = nil
		return nil
	case data[0] == '[':
		var list []T
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*o = list
		return nil
	case data[0] == '{':
		var one T
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*o = []T{one}
		return nil
	default:
		// Empty results come back as a bare string
		*o = nil
		return nil
	}
}

// flexNumber accepts a JSON number or a numeric string
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexNumber(v)
	return nil
}

type similarJSON struct {
	Name  string     `json:"name"`
	MBID  string     `json:"mbid"`
	URL   string     `json:"url"`
	Match flexNumber `json:"match"`
}

type tagJSON struct {
	Name  string     `json:"name"`
	URL   string     `json:"url"`
	Count flexNumber `json:"count"`
}
