// Command validate checks the CSV outputs of an acquisition run for
// internal consistency: unique keys, parseable values, the daily pivot
// agreeing with the raw observations, and station and county references.
//
// Usage:
//
//	go run ./cmd/validate -dir data/raw
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/crop-climate-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name    string
	skipped bool
	errors  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dir := flag.String("dir", "data/raw", "directory holding the run's CSV outputs")
	flag.Parse()

	os.Exit(run(*dir))
}

// outputs are the parsed CSV files of one run; a nil slice is a missing file.
type outputs struct {
	stations     []csvRow
	observations []csvRow
	daily        []csvRow
	dailyHeader  []string
	yields       []csvRow
}

func run(dir string) int {
	fmt.Println("=== Crop Climate Output Validation ===")
	fmt.Println()

	out, err := loadOutputs(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateStations(out),
		validateObservations(out),
		validateDaily(out),
		validateYields(out),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		switch {
		case p.skipped:
			status = "SKIP (file missing)"
		case !p.passed():
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d stations, %d observations, %d daily rows, %d yields\n",
		len(out.stations), len(out.observations), len(out.daily), len(out.yields))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

// csvRow is a parsed CSV row with field values keyed by header name.
type csvRow struct {
	lineNum int
	fields  map[string]string
}

func loadOutputs(dir string) (outputs, error) {
	var out outputs
	var err error
	if out.stations, _, err = loadCSV(filepath.Join(dir, csvfile.StationsFile)); err != nil {
		return out, err
	}
	if out.observations, _, err = loadCSV(filepath.Join(dir, csvfile.ObservationsFile)); err != nil {
		return out, err
	}
	if out.daily, out.dailyHeader, err = loadCSV(filepath.Join(dir, csvfile.DailyFile)); err != nil {
		return out, err
	}
	if out.yields, _, err = loadCSV(filepath.Join(dir, csvfile.YieldsFile)); err != nil {
		return out, err
	}
	if out.stations == nil && out.observations == nil && out.yields == nil {
		return out, fmt.Errorf("no output files in %s", dir)
	}
	return out, nil
}

// loadCSV returns nil rows without error when path does not exist.
func loadCSV(path string) ([]csvRow, []string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if len(all) < 2 {
		return nil, nil, fmt.Errorf("no data rows in %s", path)
	}

	header := all[0]
	rows := make([]csvRow, 0, len(all)-1)
	for i, row := range all[1:] {
		fields := make(map[string]string, len(header))
		for j, h := range header {
			if j < len(row) {
				fields[h] = strings.TrimSpace(row[j])
			}
		}
		rows = append(rows, csvRow{lineNum: i + 2, fields: fields})
	}
	return rows, header, nil
}

// ── Phase 1: Stations ──

func validateStations(out outputs) *phase {
	p := &phase{name: "Phase 1: Stations", skipped: out.stations == nil}

	seen := map[string]int{}
	for _, row := range out.stations {
		id := row.fields["id"]
		if id == "" {
			p.errorf("line %d: missing id", row.lineNum)
			continue
		}
		if prev, dup := seen[id]; dup {
			p.errorf("line %d: duplicate station %s (first on line %d)", row.lineNum, id, prev)
		}
		seen[id] = row.lineNum

		lat, err1 := strconv.ParseFloat(row.fields["latitude"], 64)
		lon, err2 := strconv.ParseFloat(row.fields["longitude"], 64)
		if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			p.errorf("line %d: station %s has invalid coordinates %q,%q",
				row.lineNum, id, row.fields["latitude"], row.fields["longitude"])
		}
	}
	return p
}

// ── Phase 2: Observations ──

func validateObservations(out outputs) *phase {
	p := &phase{name: "Phase 2: Observations", skipped: out.observations == nil}

	stations := stationSet(out.stations)
	seen := map[string]int{}
	for _, row := range out.observations {
		f := row.fields
		if f["station"] == "" || f["datatype"] == "" {
			p.errorf("line %d: missing station or datatype", row.lineNum)
			continue
		}
		if _, err := time.Parse(domain.DateLayout, f["date"]); err != nil {
			p.errorf("line %d: invalid date %q", row.lineNum, f["date"])
		}
		if _, err := strconv.ParseFloat(f["value"], 64); err != nil {
			p.errorf("line %d: invalid value %q", row.lineNum, f["value"])
		}
		key := observationKey(f["station"], f["date"], f["datatype"])
		if prev, dup := seen[key]; dup {
			p.errorf("line %d: duplicate observation %s (first on line %d)", row.lineNum, key, prev)
		} else {
			seen[key] = row.lineNum
		}
		if stations != nil && !stations[f["station"]] {
			p.errorf("line %d: station %s not in %s", row.lineNum, f["station"], csvfile.StationsFile)
		}
	}
	return p
}

// ── Phase 3: Daily pivot ──
// Every filled daily cell must equal the first raw observation for its key,
// and every raw observation must appear in the pivot.

func validateDaily(out outputs) *phase {
	p := &phase{name: "Phase 3: Daily pivot vs observations", skipped: out.daily == nil}
	if p.skipped {
		if out.observations != nil {
			p.skipped = false
			p.errorf("%s is missing but %s exists", csvfile.DailyFile, csvfile.ObservationsFile)
		}
		return p
	}

	first := map[string]string{}
	for _, row := range out.observations {
		key := observationKey(row.fields["station"], row.fields["date"], row.fields["datatype"])
		if _, ok := first[key]; !ok {
			first[key] = row.fields["value"]
		}
	}

	datatypes := dailyDatatypes(out.dailyHeader)
	cells := 0
	var prev string
	for _, row := range out.daily {
		f := row.fields
		order := f["date"] + "|" + f["station"]
		if order <= prev {
			p.errorf("line %d: rows not ordered by date then station", row.lineNum)
		}
		prev = order

		for _, dt := range datatypes {
			v := f[strings.ToLower(dt)]
			if v == "" {
				continue
			}
			cells++
			key := observationKey(f["station"], f["date"], dt)
			want, ok := first[key]
			switch {
			case !ok:
				p.errorf("line %d: %s has no raw observation", row.lineNum, key)
			case !sameNumber(v, want):
				p.errorf("line %d: %s is %s, raw observation is %s", row.lineNum, key, v, want)
			}
		}
	}
	if cells != len(first) {
		p.errorf("daily pivot holds %d values, observations hold %d distinct keys", cells, len(first))
	}
	return p
}

// ── Phase 4: Yields ──

var fipsPattern = regexp.MustCompile(`^\d{5}$`)

func validateYields(out outputs) *phase {
	p := &phase{name: "Phase 4: Yields", skipped: out.yields == nil}

	seen := map[string]int{}
	for _, row := range out.yields {
		f := row.fields
		if _, err := strconv.Atoi(f["year"]); err != nil {
			p.errorf("line %d: invalid year %q", row.lineNum, f["year"])
		}
		if fips := f["county_fips"]; fips != "" && !fipsPattern.MatchString(fips) {
			p.errorf("line %d: invalid county_fips %q", row.lineNum, fips)
		}

		value, code := f["value"], f["value_code"]
		switch {
		case value == "" && code == "":
			p.errorf("line %d: neither value nor value_code set", row.lineNum)
		case value != "" && code != "":
			p.errorf("line %d: value %q set on suppressed row %q", row.lineNum, value, code)
		case value != "":
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				p.errorf("line %d: invalid value %q", row.lineNum, value)
			}
		}

		key := strings.Join([]string{f["year"], f["state_fips_code"], f["county_ansi"], f["county_name"], f["commodity_desc"]}, "|")
		if prev, dup := seen[key]; dup {
			p.errorf("line %d: duplicate yield %s (first on line %d)", row.lineNum, key, prev)
		} else {
			seen[key] = row.lineNum
		}
	}
	return p
}

// ── Helpers ──

func observationKey(station, date, datatype string) string {
	return station + "|" + date + "|" + strings.ToUpper(datatype)
}

func stationSet(rows []csvRow) map[string]bool {
	if rows == nil {
		return nil
	}
	set := make(map[string]bool, len(rows))
	for _, row := range rows {
		set[row.fields["id"]] = true
	}
	return set
}

// dailyDatatypes returns the datatype columns of the daily header.
func dailyDatatypes(header []string) []string {
	var out []string
	for _, h := range header {
		switch h {
		case "date", "station", "county_fips":
		default:
			out = append(out, strings.ToUpper(h))
		}
	}
	return out
}

func sameNumber(a, b string) bool {
	x, err1 := strconv.ParseFloat(a, 64)
	y, err2 := strconv.ParseFloat(b, 64)
	return err1 == nil && err2 == nil && x == y
}
