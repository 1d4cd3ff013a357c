// Package topicrouter resolves inbound transport topics to device ids.
package topicrouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"buildingops/internal/models"
	"buildingops/internal/utils"
)

// DeviceLookup finds a device by its exact stored topic and returns
// models.ErrNotFound when none matches.
type DeviceLookup interface {
	FindDeviceIDByTopic(ctx context.Context, topic string) (string, error)
}

// Cache is an optional memo of previous resolutions
type Cache interface {
	Get(ctx context.Context, topic string) (string, bool, error)
	Set(ctx context.Context, topic, deviceID string) error
}

// Router maps topics to devices: exact match first, then the parent topic
// with the last segment stripped.
type Router struct {
	lookup DeviceLookup
	cache  Cache
	logger *slog.Logger
}

// New creates a router. cache may be nil.
func New(lookup DeviceLookup, cache Cache, logger *slog.Logger) *Router {
	return &Router{lookup: lookup, cache: cache, logger: utils.Component(logger, "topicrouter")}
}

// Resolve returns the device id owning topic. found is false when neither the
// topic nor its parent belongs to a device; err only reports lookup failures.
func (r *Router) Resolve(ctx context.Context, topic string) (deviceID string, found bool, err error) {
	if topic == "" {
		return "", false, nil
	}
	if r.cache != nil {
		id, ok, cerr := r.cache.Get(ctx, topic)
		if cerr != nil {
			r.logger.Warn("TOPICROUTER: cache read failed", "topic", topic, "error", cerr)
		} else if ok {
			return id, true, nil
		}
	}

	id, ok, err := r.find(ctx, topic)
	if err != nil {
		return "", false, err
	}
	if !ok {
		parent, hasParent := utils.ParentTopic(topic)
		if !hasParent {
			return "", false, nil
		}
		id, ok, err = r.find(ctx, parent)
		if err != nil || !ok {
			return "", false, err
		}
	}

	if r.cache != nil {
		if cerr := r.cache.Set(ctx, topic, id); cerr != nil {
			r.logger.Warn("TOPICROUTER: cache write failed", "topic", topic, "error", cerr)
		}
	}
	return id, true, nil
}

func (r *Router) find(ctx context.Context, topic string) (string, bool, error) {
	id, err := r.lookup.FindDeviceIDByTopic(ctx, topic)
	if errors.Is(err, models.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve topic %q: %w", topic, err)
	}
	return id, true, nil
}
