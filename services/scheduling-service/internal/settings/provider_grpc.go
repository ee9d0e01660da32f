//go:build protogen

package settings

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinicops/clinicsched/libs/grpcx"
	clinicv1 "github.com/clinicops/clinicsched/protos/gen/clinic/v1"
	"github.com/clinicops/clinicsched/services/scheduling-service/internal/clock"
)

type grpcProvider struct {
	client   clinicv1.ClinicServiceClient
	fallback Hours
	logger   *slog.Logger
}

func NewClinicProfileProvider(logger *slog.Logger, fallback Hours, addr string) (Provider, error) {
	if addr == "" {
		return NewStaticProvider(fallback), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		logger.Warn("clinic profile service unavailable, using static hours", "err", err)
		return NewStaticProvider(fallback), nil
	}

	logger.Info("clinic profile provider enabled", "addr", addr)
	return &grpcProvider{client: clinicv1.NewClinicServiceClient(conn), fallback: fallback, logger: logger}, nil
}

func (p *grpcProvider) Hours(ctx context.Context, date time.Time) (Hours, error) {
	resp, err := p.client.GetClinicHours(ctx, &clinicv1.ClinicHoursRequest{
		Date: date.Format(time.DateOnly),
	})
	if err != nil {
		p.logger.Warn("clinic hours fetch failed, using static hours", "err", err)
		return p.fallback, nil
	}

	open, err := clock.ParseTimeOfDay(resp.GetOpen())
	if err != nil {
		return p.fallback, nil
	}
	close, err := clock.ParseTimeOfDay(resp.GetClose())
	if err != nil {
		return p.fallback, nil
	}
	h := Hours{Open: open, Close: close, SlotMinutes: int(resp.GetSlotMinutes())}
	if err := h.Validate(); err != nil {
		return p.fallback, nil
	}
	return h, nil
}
