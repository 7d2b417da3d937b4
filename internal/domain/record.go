package domain

import (
	"encoding/json"
	"time"
)

// RawObservation is a CDO /data record as served.
type RawObservation struct {
	Date       string  `json:"date"`
	DataType   string  `json:"datatype"`
	Station    string  `json:"station"`
	Attributes string  `json:"attributes"`
	Value      float64 `json:"value"`
}

// Observation is one station reading for one datatype on one day.
type Observation struct {
	Date       time.Time `json:"date"`
	DataType   string    `json:"datatype"`
	Station    string    `json:"station"`
	Attributes string    `json:"attributes,omitempty"`
	Value      float64   `json:"value"`
	FetchedAt  time.Time `json:"fetched_at"`

	Raw json.RawMessage `json:"-"`
}

// Key identifies the observation; CDO serves at most one value per key.
func (o Observation) Key() string {
	return o.Station + "|" + o.Date.Format(DateLayout) + "|" + o.DataType
}

// Station is a CDO /stations record.
type Station struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Elevation    float64 `json:"elevation"`
	ElevationUOM string  `json:"elevationUnit"`
	MinDate      string  `json:"mindate"`
	MaxDate      string  `json:"maxdate"`
	DataCoverage float64 `json:"datacoverage"`
}

// RawYield is a QuickStats row restricted to the columns used downstream.
// Every field arrives as a string.
type RawYield struct {
	Year          json.Number `json:"year"`
	StateName     string      `json:"state_name"`
	StateFIPS     string      `json:"state_fips_code"`
	CountyName    string      `json:"county_name"`
	CountyANSI    string      `json:"county_ansi"`
	CommodityDesc string      `json:"commodity_desc"`
	StatisticCat  string      `json:"statisticcat_desc"`
	UnitDesc      string      `json:"unit_desc"`
	Value         string      `json:"Value"`
}

// YieldRecord is one county-year yield figure.
type YieldRecord struct {
	Year       int       `json:"year"`
	State      string    `json:"state"`
	StateFIPS  string    `json:"state_fips"`
	County     string    `json:"county"`
	CountyANSI string    `json:"county_ansi"`
	CountyFIPS string    `json:"county_fips,omitempty"`
	Commodity  string    `json:"commodity"`
	Statistic  string    `json:"statistic"`
	Unit       string    `json:"unit"`
	Value      float64   `json:"value"`
	Suppressed bool      `json:"suppressed,omitempty"`
	ValueCode  string    `json:"value_code,omitempty"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// DailyRow is the pivoted form of observations sharing a date and station.
type DailyRow struct {
	Date    time.Time
	Station string
	Values  map[string]float64
}
