// Package settings resolves the clinic's operating-hours configuration. The
// bounds are configuration, not constants: deployments override them via env,
// and multi-clinic installs fetch them from the clinic profile service over
// gRPC (protogen builds).
package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicops/clinicsched/services/scheduling-service/internal/clock"
)

// Hours is the bookable window and slot width for one calendar date.
type Hours struct {
	Open        clock.TimeOfDay
	Close       clock.TimeOfDay
	SlotMinutes int
}

func (h Hours) Validate() error {
	if !h.Open.Valid() || !h.Close.Valid() || h.Close <= h.Open {
		return fmt.Errorf("clinic hours %s-%s are malformed", h.Open, h.Close)
	}
	if h.SlotMinutes <= 0 || h.SlotMinutes > int(h.Close-h.Open) {
		return fmt.Errorf("slot width %d minutes does not fit %s-%s", h.SlotMinutes, h.Open, h.Close)
	}
	return nil
}

type Provider interface {
	Hours(ctx context.Context, date time.Time) (Hours, error)
}

type staticProvider struct {
	hours Hours
}

func NewStaticProvider(hours Hours) Provider {
	return &staticProvider{hours: hours}
}

func (p *staticProvider) Hours(_ context.Context, _ time.Time) (Hours, error) {
	return p.hours, nil
}

// HoursFromStrings builds Hours from "15:04" bounds, e.g. env config.
func HoursFromStrings(open, close string, slotMinutes int) (Hours, error) {
	o, err := clock.ParseTimeOfDay(open)
	if err != nil {
		return Hours{}, err
	}
	c, err := clock.ParseTimeOfDay(close)
	if err != nil {
		return Hours{}, err
	}
	h := Hours{Open: o, Close: c, SlotMinutes: slotMinutes}
	if err := h.Validate(); err != nil {
		return Hours{}, err
	}
	return h, nil
}
