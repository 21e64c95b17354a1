package reservation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ID is the caller's reservation identifier. Callers send it either as a JSON
// string or a JSON number; both decode to the same textual form.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	s, err := decodeFlexible(b)
	if err != nil {
		return fmt.Errorf("reservation_id: %w", err)
	}
	*id = ID(s)
	return nil
}

func (id ID) String() string { return string(id) }

// Course is the course duration in minutes ("60", "75", ...).
type Course string

func (c *Course) UnmarshalJSON(b []byte) error {
	s, err := decodeFlexible(b)
	if err != nil {
		return fmt.Errorf("course: %w", err)
	}
	*c = Course(s)
	return nil
}

func decodeFlexible(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", fmt.Errorf("want string or number")
	}
	return canonicalNumber(n), nil
}

// canonicalNumber writes integral numbers without fraction or exponent, so
// 60, 60.0 and 6e1 all become "60". Other numbers keep their JSON text.
func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return n.String()
	}
	return strconv.FormatInt(int64(f), 10)
}

// Request is one reservation to register on the remote system. It is owned by
// the caller and treated as read-only for the duration of a sync attempt.
type Request struct {
	ReservationID   ID     `json:"reservation_id"`
	Course          Course `json:"course"`
	CastName        string `json:"cast_name"`
	ReservationTime string `json:"reservation_time"`
	CustomerPhone   string `json:"customer_phone"`
	MemberNumber    string `json:"member_number,omitempty"`
	CustomerName    string `json:"customer_name,omitempty"`
}

var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// StartsAt parses ReservationTime. Timestamps carrying an offset are converted
// into loc; naive timestamps are read as wall-clock time in loc.
func (r Request) StartsAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s := strings.TrimSpace(r.ReservationTime)
	if s == "" {
		return time.Time{}, fmt.Errorf("reservation_time is empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid reservation_time %q", r.ReservationTime)
}

// ValidationError lists the request fields that are missing or malformed.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid reservation request: " + strings.Join(e.Fields, ", ")
}

// Validate checks the fields every sync attempt depends on. Member number and
// customer name are optional.
func (r Request) Validate() error {
	var bad []string
	if r.ReservationID == "" {
		bad = append(bad, "reservation_id")
	}
	if r.Course == "" {
		bad = append(bad, "course")
	}
	if strings.TrimSpace(r.CastName) == "" {
		bad = append(bad, "cast_name")
	}
	if _, err := r.StartsAt(time.UTC); err != nil {
		bad = append(bad, "reservation_time")
	}
	if strings.TrimSpace(r.CustomerPhone) == "" {
		bad = append(bad, "customer_phone")
	}
	if len(bad) > 0 {
		return &ValidationError{Fields: bad}
	}
	return nil
}
