package complaints

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/EmpoweredVote/hexpulse/internal/config"
	"github.com/EmpoweredVote/hexpulse/internal/errs"
	"github.com/EmpoweredVote/hexpulse/internal/hexgrid"
	"github.com/paulmach/orb"
)

var (
	ErrMissingKey = errors.New("unique_key is missing")
	// ErrNulByte marks text Postgres cannot store.
	ErrNulByte    = errors.New("text contains a NUL byte")
)

// field is a loosely-typed upstream value. Socrata sends everything as strings, but numbers
// are accepted too. Set is false for absent, null and blank values.
type field struct {
	Value string
	Set   bool
}

func (f *field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if strings.ContainsRune(s, 0) {
			return ErrNulByte
		}
		f.Value = strings.TrimSpace(s)
	case len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')):
		f.Value = string(b)
	default:
		return fmt.Errorf("unexpected JSON value %s", b)
	}
	f.Set = f.Value != ""
	return nil
}

type rawComplaint struct {
	UniqueKey     field `json:"unique_key"`
	CreatedDate   field `json:"created_date"`
	ClosedDate    field `json:"closed_date"`
	Agency        field `json:"agency"`
	ComplaintType field `json:"complaint_type"`
	Descriptor    field `json:"descriptor"`
	Latitude      field `json:"latitude"`
	Longitude     field `json:"longitude"`
}

// Clean validates one upstream record. Any failure is an errs.ErrMalformedRecord; the caller
// drops the record and carries on.
func Clean(raw json.RawMessage) (Complaint, error) {
	var r rawComplaint
	if err := json.Unmarshal(raw, &r); err != nil {
		return Complaint{}, errs.Record("decode complaint", err)
	}
	if !r.UniqueKey.Set {
		return Complaint{}, errs.Record("clean complaint", ErrMissingKey)
	}
	op := "clean complaint " + r.UniqueKey.Value

	c := Complaint{
		UniqueKey:     r.UniqueKey.Value,
		Agency:        r.Agency.Value,
		ComplaintType: r.ComplaintType.Value,
		Descriptor:    r.Descriptor.Value,
	}

	var err error
	if c.CreatedDate, err = parseTime(r.CreatedDate); err != nil {
		return Complaint{}, errs.Record(op, fmt.Errorf("created_date: %w", err))
	}
	if c.ClosedDate, err = parseTime(r.ClosedDate); err != nil {
		return Complaint{}, errs.Record(op, fmt.Errorf("closed_date: %w", err))
	}

	if r.Latitude.Set && r.Longitude.Set {
		lat, err := strconv.ParseFloat(r.Latitude.Value, 64)
		if err != nil {
			return Complaint{}, errs.Record(op, fmt.Errorf("latitude: %w", err))
		}
		lon, err := strconv.ParseFloat(r.Longitude.Value, 64)
		if err != nil {
			return Complaint{}, errs.Record(op, fmt.Errorf("longitude: %w", err))
		}
		cell, err := hexgrid.PointToCell(lat, lon, hexgrid.Resolution)
		if err != nil {
			return Complaint{}, errs.Record(op, err)
		}
		c.Point = &orb.Point{lon, lat}
		c.Cell = &cell
	}
	return c, nil
}

func parseTime(f field) (*time.Time, error) {
	if !f.Set {
		return nil, nil
	}
	t, err := config.ParseTimestamp(f.Value)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
