package org

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"studyroom/internal/template"
)

const cacheKeyPrefix = "studyroom:org:"

// Directory fronts a Store with a TTL cache for organizations. Concurrent
// misses for the same organization share one load.
type Directory struct {
	store Store
	cache Cache
	ttl   time.Duration
	group singleflight.Group
	log   *slog.Logger
}

// NewDirectory wraps store. A nil cache disables caching.
func NewDirectory(store Store, cache Cache, ttl time.Duration, log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{store: store, cache: cache, ttl: ttl, log: log}
}

func (d *Directory) Organization(ctx context.Context, id string) (Organization, error) {
	if d.cache == nil || d.ttl <= 0 {
		return d.store.Organization(ctx, id)
	}
	key := cacheKeyPrefix + id
	if raw, ok, err := d.cache.Get(ctx, key); err != nil {
		d.log.WarnContext(ctx, "org cache read failed", slog.String("org_id", id), slog.Any("error", err))
	} else if ok {
		var o Organization
		if err := json.Unmarshal(raw, &o); err == nil {
			return o, nil
		}
	}

	v, err, _ := d.group.Do(id, func() (any, error) {
		o, err := d.store.Organization(ctx, id)
		if err != nil {
			return Organization{}, err
		}
		if raw, err := json.Marshal(o); err == nil {
			if err := d.cache.Set(ctx, key, raw, d.ttl); err != nil {
				d.log.WarnContext(ctx, "org cache write failed", slog.String("org_id", id), slog.Any("error", err))
			}
		}
		return o, nil
	})
	if err != nil {
		return Organization{}, err
	}
	return v.(Organization), nil
}

// Invalidate drops the cached copy of an organization.
func (d *Directory) Invalidate(ctx context.Context, id string) error {
	if d.cache == nil {
		return nil
	}
	return d.cache.Del(ctx, cacheKeyPrefix+id)
}

func (d *Directory) Student(ctx context.Context, orgID, id string) (Student, error) {
	return d.store.Student(ctx, orgID, id)
}

func (d *Directory) Students(ctx context.Context, orgID string, ids []string) ([]Student, error) {
	return d.store.Students(ctx, orgID, ids)
}

// TemplateOverrides implements template.OverrideSource.
func (d *Directory) TemplateOverrides(ctx context.Context, orgID string) (template.Overrides, error) {
	o, err := d.Organization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return o.Settings.Overrides(), nil
}
