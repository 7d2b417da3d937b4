package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// observationDateLayout is the timestamp format of CDO record dates.
const observationDateLayout = "2006-01-02T15:04:05"

// ParseObservation decodes a CDO /data record.
func ParseObservation(raw json.RawMessage) (Observation, error) {
	var rec RawObservation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Observation{}, fmt.Errorf("parse observation: %w", err)
	}
	if rec.Station == "" || rec.DataType == "" {
		return Observation{}, fmt.Errorf("parse observation: missing station or datatype")
	}

	date, err := parseObservationDate(rec.Date)
	if err != nil {
		return Observation{}, fmt.Errorf("parse observation: %w", err)
	}

	return Observation{
		Date:       date,
		DataType:   strings.ToUpper(strings.TrimSpace(rec.DataType)),
		Station:    strings.TrimSpace(rec.Station),
		Attributes: rec.Attributes,
		Value:      rec.Value,
		FetchedAt:  clock.Now().UTC(),
		Raw:        raw,
	}, nil
}

// ParseStation decodes a CDO /stations record.
func ParseStation(raw json.RawMessage) (Station, error) {
	var st Station
	if err := json.Unmarshal(raw, &st); err != nil {
		return Station{}, fmt.Errorf("parse station: %w", err)
	}
	if st.ID == "" {
		return Station{}, fmt.Errorf("parse station: missing id")
	}
	return st, nil
}

// ParseYield decodes a QuickStats row. Suppressed values such as "(D)" are
// not an error: the record is returned with Suppressed set and ValueCode
// holding the code.
func ParseYield(raw json.RawMessage) (YieldRecord, error) {
	var rec RawYield
	if err := json.Unmarshal(raw, &rec); err != nil {
		return YieldRecord{}, fmt.Errorf("parse yield: %w", err)
	}

	year, err := strconv.Atoi(strings.TrimSpace(rec.Year.String()))
	if err != nil {
		return YieldRecord{}, fmt.Errorf("parse yield: invalid year %q", rec.Year)
	}

	out := YieldRecord{
		Year:       year,
		State:      strings.TrimSpace(rec.StateName),
		StateFIPS:  strings.TrimSpace(rec.StateFIPS),
		County:     strings.TrimSpace(rec.CountyName),
		CountyANSI: strings.TrimSpace(rec.CountyANSI),
		Commodity:  normalizeCommodity(rec.CommodityDesc),
		Statistic:  strings.TrimSpace(rec.StatisticCat),
		Unit:       strings.TrimSpace(rec.UnitDesc),
		FetchedAt:  clock.Now().UTC(),
	}
	out.CountyFIPS = countyFIPS(out.StateFIPS, out.CountyANSI)

	value, code, err := parseYieldValue(rec.Value)
	if err != nil {
		return YieldRecord{}, fmt.Errorf("parse yield: %w", err)
	}
	out.Value = value
	out.ValueCode = code
	out.Suppressed = code != ""
	return out, nil
}

// parseYieldValue parses a QuickStats Value, e.g. "1,234.5" -> 1234.5.
// Parenthesized codes like "(D)" return the code instead of a value.
func parseYieldValue(s string) (float64, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, "(NA)", nil
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		return 0, s, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid value %q", s)
	}
	return v, "", nil
}

// normalizeCommodity maps NASS commodity variants onto the base crop name,
// e.g. "CORN, GRAIN" -> "CORN".
func normalizeCommodity(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if base, _, ok := strings.Cut(s, ","); ok {
		return strings.TrimSpace(base)
	}
	return s
}

// countyFIPS builds the 5-digit county FIPS code from its state and county
// parts. Returns "" when either part is missing or not numeric.
func countyFIPS(state, county string) string {
	st, err := strconv.Atoi(state)
	if err != nil || st <= 0 || st > 99 {
		return ""
	}
	co, err := strconv.Atoi(county)
	if err != nil || co <= 0 || co > 999 {
		return ""
	}
	return fmt.Sprintf("%02d%03d", st, co)
}

func parseObservationDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(observationDateLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}

// PivotDaily reshapes long-format observations into one row per
// (date, station), ordered by date then station. When a key repeats, the
// first value wins. It also returns the sorted set of datatypes seen.
func PivotDaily(observations []Observation) ([]DailyRow, []string) {
	type rowKey struct {
		date    time.Time
		station string
	}

	index := make(map[rowKey]int)
	var rows []DailyRow
	seen := make(map[string]struct{})

	for _, o := range observations {
		seen[o.DataType] = struct{}{}
		k := rowKey{date: o.Date, station: o.Station}
		i, ok := index[k]
		if !ok {
			i = len(rows)
			index[k] = i
			rows = append(rows, DailyRow{Date: o.Date, Station: o.Station, Values: make(map[string]float64)})
		}
		if _, dup := rows[i].Values[o.DataType]; !dup {
			rows[i].Values[o.DataType] = o.Value
		}
	}

	slices.SortStableFunc(rows, func(a, b DailyRow) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.Station, b.Station)
	})

	datatypes := make([]string, 0, len(seen))
	for dt := range seen {
		datatypes = append(datatypes, dt)
	}
	slices.Sort(datatypes)

	return rows, datatypes
}
