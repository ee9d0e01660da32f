//go:build !protogen

package settings

import "log/slog"

func NewClinicProfileProvider(_ *slog.Logger, fallback Hours, _ string) (Provider, error) {
	return NewStaticProvider(fallback), nil
}
