// Package domain models NOAA Climate Data Online (CDO) daily observations and
// USDA NASS QuickStats county crop yields.
//
// # Data Sources
//
// Daily weather comes from the CDO v2 web service, dataset GHCND (Global
// Historical Climatology Network, Daily), at https://www.ncdc.noaa.gov/cdo-web/api/v2.
// Crop yields come from NASS QuickStats at https://quickstats.nass.usda.gov/api.
//
// # CDO Conventions
//
// Paging:
//
//	Every list endpoint returns {"results": [...], "metadata": {"resultset":
//	{"offset": 1, "count": 2500, "limit": 1000}}}. Offsets are 1-based: the page
//	at offset 1001 holds records 1001..2000. A window with no data returns {}
//	with no "results" key at all.
//
// Date ranges:
//
//	startdate/enddate are inclusive YYYY-MM-DD strings and GHCND rejects spans
//	of a year or more. Ranges are therefore split into half-open [start, end)
//	windows of at most 180 days and sent as startdate=start, enddate=end-1day.
//	See [SplitWindows].
//
// Records:
//
//	{"date": "2020-01-01T00:00:00", "datatype": "TMAX",
//	 "station": "GHCND:USC00110072", "attributes": ",,7,0700", "value": -5.6}
//	With units=metric, temperatures are degrees Celsius and PRCP is millimetres.
//	attributes is the GHCND flag string (measurement, quality, source, time).
//
// # NASS Conventions
//
// Yield rows come back as {"data": [...]} with every field a string. Value uses
// thousands separators ("1,234.5"). Withheld or unavailable figures are coded
// in parentheses: (D) withheld to avoid disclosing individual operations,
// (Z) less than half the unit shown, (NA) not available, (X) not applicable.
// Such rows are kept with Suppressed set and no numeric value. See [ParseYield].
//
// # Daily Pivot
//
// Observations are long-format (one row per station, date and datatype). The
// daily table pivots them to one row per (date, station) with a column per
// datatype. When CDO returns the same key twice the first value wins. See
// [PivotDaily].
package domain
