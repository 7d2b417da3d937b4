// Command mockapi serves deterministic CDO and QuickStats responses for
// local runs of cmd/acquire without real credentials.
//
// Usage:
//
//	go run ./cmd/mockapi -addr :8090 -rate-limit-every 10
//
//	NOAA_BASE_URL=http://localhost:8090/cdo \
//	USDA_BASE_URL=http://localhost:8090/nass \
//	NOAA_API_TOKEN=mock USDA_API_KEY=mock \
//	go run ./cmd/acquire
package main

import (
	"errors"
	"flag"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/crop-climate-etl/internal/testutil"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	addr := flag.String("addr", ":8090", "listen address")
	token := flag.String("token", "", "required CDO token header (empty accepts any)")
	apiKey := flag.String("api-key", "", "required QuickStats key (empty accepts any)")
	stations := flag.Int("stations", 5, "stations reporting every datatype every day")
	counties := flag.Int("counties", 10, "counties reporting each commodity each year")
	rateLimitEvery := flag.Int("rate-limit-every", 0, "answer every Nth request with HTTP 429 (0 disables)")
	failDataTypes := flag.String("fail-datatypes", "", "comma-separated CDO datatypes answered with HTTP 500")
	flag.Parse()

	if *stations < 1 || *counties < 1 {
		flag.Usage()
		return errors.New("-stations and -counties must be at least 1")
	}

	cfg := testutil.MockConfig{
		Token:          *token,
		APIKey:         *apiKey,
		Stations:       *stations,
		Counties:       *counties,
		RateLimitEvery: *rateLimitEvery,
	}
	for _, dt := range strings.Split(*failDataTypes, ",") {
		if dt = strings.ToUpper(strings.TrimSpace(dt)); dt != "" {
			cfg.FailDataTypes = append(cfg.FailDataTypes, dt)
		}
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           testutil.NewMockAPI(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("mock CDO at http://localhost%s/cdo, QuickStats at http://localhost%s/nass", *addr, *addr)
	return srv.ListenAndServe()
}
