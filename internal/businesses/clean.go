package businesses

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/EmpoweredVote/hexpulse/internal/errs"
	"github.com/EmpoweredVote/hexpulse/internal/hexgrid"
	"github.com/paulmach/orb"
)

var (
	ErrMissingLicense = errors.New("license_nbr is missing")
	ErrMissingPoint   = errors.New("latitude/longitude missing")
	ErrNulByte        = errors.New("text contains a NUL byte")
)

type rawBusiness struct {
	LicenseNbr json.RawMessage `json:"license_nbr"`
	Latitude   json.RawMessage `json:"latitude"`
	Longitude  json.RawMessage `json:"longitude"`
}

// Clean validates one license record. Unlike complaints, a business without coordinates
// is useless to the grid and is rejected.
func Clean(raw json.RawMessage) (Business, error) {
	var r rawBusiness
	if err := json.Unmarshal(raw, &r); err != nil {
		return Business{}, errs.Record("decode business", err)
	}
	license, err := scalar(r.LicenseNbr)
	if err != nil {
		return Business{}, errs.Record("clean business", fmt.Errorf("license_nbr: %w", err))
	}
	if license == "" {
		return Business{}, errs.Record("clean business", ErrMissingLicense)
	}
	op := "clean business " + license

	latS, err := scalar(r.Latitude)
	if err != nil {
		return Business{}, errs.Record(op, fmt.Errorf("latitude: %w", err))
	}
	lonS, err := scalar(r.Longitude)
	if err != nil {
		return Business{}, errs.Record(op, fmt.Errorf("longitude: %w", err))
	}
	if latS == "" || lonS == "" {
		return Business{}, errs.Record(op, ErrMissingPoint)
	}
	lat, err := strconv.ParseFloat(latS, 64)
	if err != nil {
		return Business{}, errs.Record(op, err)
	}
	lon, err := strconv.ParseFloat(lonS, 64)
	if err != nil {
		return Business{}, errs.Record(op, err)
	}
	cell, err := hexgrid.PointToCell(lat, lon, hexgrid.Resolution)
	if err != nil {
		return Business{}, errs.Record(op, err)
	}
	return Business{LicenseNbr: license, Point: orb.Point{lon, lat}, Cell: cell}, nil
}

// scalar reads a JSON string or number; absent and null read as "".
func scalar(b json.RawMessage) (string, error) {
	if len(b) == 0 || string(b) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if strings.ContainsRune(s, 0) {
			return "", ErrNulByte
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", fmt.Errorf("unexpected JSON value %s", b)
	}
	return n.String(), nil
}
