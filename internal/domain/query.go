package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidQuery is returned when a query fails validation.
var ErrInvalidQuery = errors.New("invalid query")

var validate = validator.New(validator.WithRequiredStructEnabled())

// DailyQuery selects CDO daily observations.
type DailyQuery struct {
	DatasetID  string    `validate:"required"`
	LocationID string    `validate:"required"`
	DataTypes  []string  `validate:"required,min=1,dive,required"`
	Units      string    `validate:"omitempty,oneof=metric standard"`
	Start      time.Time `validate:"required"`
	End        time.Time `validate:"required,gtfield=Start"`
}

// Validate checks the query before any request is made.
func (q DailyQuery) Validate() error {
	return validateStruct(q)
}

// YieldQuery selects NASS county yields for one state.
type YieldQuery struct {
	State       string   `validate:"required"`
	Commodities []string `validate:"required,min=1,dive,required"`
	StartYear   int      `validate:"required,gte=1850"`
	EndYear     int      `validate:"required,gtefield=StartYear"`
}

// Validate checks the query before any request is made.
func (q YieldQuery) Validate() error {
	return validateStruct(q)
}

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidQuery, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return nil
}

// YieldRequest is one QuickStats call: a single commodity over a year range.
type YieldRequest struct {
	State     string
	Commodity string
	StartYear int
	EndYear   int
}

// Requests expands the query into one request per commodity, in order.
func (q YieldQuery) Requests() []YieldRequest {
	out := make([]YieldRequest, len(q.Commodities))
	for i, c := range q.Commodities {
		out[i] = YieldRequest{State: q.State, Commodity: c, StartYear: q.StartYear, EndYear: q.EndYear}
	}
	return out
}
