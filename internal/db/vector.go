package db

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// Vector is a pgvector value, written and read in its text form "[1,2,3]".
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

func (v *Vector) Scan(src any) error {
	var s string
	switch t := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return fmt.Errorf("vector: cannot scan %T", src)
	}
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return fmt.Errorf("vector: malformed value %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		*v = Vector{}
		return nil
	}
	parts := strings.Split(body, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("vector: element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}
