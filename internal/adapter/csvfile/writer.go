// Package csvfile persists fetch results as CSV files under one directory.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/domain"
	"github.com/couchcryptid/crop-climate-etl/internal/observability"
)

// Output file names.
const (
	StationsFile     = "noaa_stations.csv"
	ObservationsFile = "noaa_full.csv"
	DailyFile        = "noaa_daily.csv"
	YieldsFile       = "usda_yields.csv"
)

const sink = "csv"

// ErrNoRecords is returned instead of writing a file with only a header.
var ErrNoRecords = errors.New("no records to write")

// Writer writes CSV files into dir, creating it on first use. Each file is
// written to a temporary name and renamed into place, so a reader never
// sees a partial file.
type Writer struct {
	dir     string
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewWriter creates a Writer for dir.
func NewWriter(dir string, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	return &Writer{dir: dir, metrics: metrics, logger: logger}
}

// WriteObservations writes observations in long format, one row per reading.
func (w *Writer) WriteObservations(obs []domain.Observation) (string, error) {
	header := []string{"date", "datatype", "station", "attributes", "value"}
	return w.write(ObservationsFile, header, len(obs), func(i int) []string {
		o := obs[i]
		return []string{
			o.Date.Format(domain.DateLayout),
			o.DataType,
			o.Station,
			o.Attributes,
			formatFloat(o.Value),
		}
	})
}

// WriteDaily writes pivoted rows with one column per datatype. Missing
// readings are left blank. county_fips is left blank for a later station
// lookup to fill.
func (w *Writer) WriteDaily(rows []domain.DailyRow, datatypes []string) (string, error) {
	header := make([]string, 0, len(datatypes)+3)
	header = append(header, "date", "station")
	for _, dt := range datatypes {
		header = append(header, strings.ToLower(dt))
	}
	header = append(header, "county_fips")

	return w.write(DailyFile, header, len(rows), func(i int) []string {
		r := rows[i]
		rec := make([]string, 0, len(header))
		rec = append(rec, r.Date.Format(domain.DateLayout), r.Station)
		for _, dt := range datatypes {
			v, ok := r.Values[dt]
			if !ok {
				rec = append(rec, "")
				continue
			}
			rec = append(rec, formatFloat(v))
		}
		return append(rec, "")
	})
}

// WriteStations writes the station listing.
func (w *Writer) WriteStations(stations []domain.Station) (string, error) {
	header := []string{"id", "name", "latitude", "longitude", "elevation", "elevation_unit", "mindate", "maxdate", "datacoverage"}
	return w.write(StationsFile, header, len(stations), func(i int) []string {
		s := stations[i]
		return []string{
			s.ID,
			s.Name,
			formatFloat(s.Latitude),
			formatFloat(s.Longitude),
			formatFloat(s.Elevation),
			s.ElevationUOM,
			s.MinDate,
			s.MaxDate,
			formatFloat(s.DataCoverage),
		}
	})
}

// WriteYields writes county yields. Suppressed values leave value blank and
// carry the NASS code in value_code.
func (w *Writer) WriteYields(yields []domain.YieldRecord) (string, error) {
	header := []string{"year", "state_name", "state_fips_code", "county_name", "county_ansi", "county_fips", "commodity_desc", "statisticcat_desc", "unit_desc", "value", "value_code"}
	return w.write(YieldsFile, header, len(yields), func(i int) []string {
		y := yields[i]
		value := formatFloat(y.Value)
		if y.Suppressed {
			value = ""
		}
		return []string{
			strconv.Itoa(y.Year),
			y.State,
			y.StateFIPS,
			y.County,
			y.CountyANSI,
			y.CountyFIPS,
			y.Commodity,
			y.Statistic,
			y.Unit,
			value,
			y.ValueCode,
		}
	})
}

func (w *Writer) write(name string, header []string, n int, row func(i int) []string) (string, error) {
	if n == 0 {
		return "", fmt.Errorf("write %s: %w", name, ErrNoRecords)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(w.dir, name)
	tmp, err := os.CreateTemp(w.dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	start := time.Now()
	cw := csv.NewWriter(tmp)
	if err := cw.Write(header); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	for i := range n {
		if err := cw.Write(row(i)); err != nil {
			tmp.Close()
			return "", fmt.Errorf("write %s: %w", name, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}

	w.metrics.RecordsWritten.WithLabelValues(sink).Add(float64(n))
	w.logger.Info("csv written",
		"path", path,
		"rows", n,
		"columns", len(header),
		"duration", time.Since(start),
	)
	return path, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
