package template

import (
	"context"
	"log/slog"
	"strings"
)

// Overrides are organization-specific templates, keyed by audience and
// then event type.
type Overrides map[Audience]map[EventType]string

// OverrideSource loads an organization's template overrides.
type OverrideSource interface {
	TemplateOverrides(ctx context.Context, orgID string) (Overrides, error)
}

// Resolver picks the template for an (event, audience) pair.
type Resolver struct {
	src OverrideSource
	log *slog.Logger
}

func NewResolver(src OverrideSource, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{src: src, log: log}
}

// Resolve returns the organization's override when one is set and
// non-blank, otherwise the built-in default. A failure to load overrides
// is logged and treated as no override.
func (r *Resolver) Resolve(ctx context.Context, orgID string, event EventType, audience Audience) string {
	if r.src != nil {
		ov, err := r.src.TemplateOverrides(ctx, orgID)
		if err != nil {
			r.log.WarnContext(ctx, "template overrides unavailable, using default",
				slog.String("org_id", orgID), slog.String("event_type", string(event)), slog.Any("error", err))
		} else if t := ov[audience][event]; strings.TrimSpace(t) != "" {
			return t
		}
	}
	return Default(event, audience)
}
