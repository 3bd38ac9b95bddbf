package app

import (
	"context"
	"errors"

	"pinger/internal/metadata"
	"pinger/internal/storage"
	"pinger/internal/upstream"
	logx "pinger/pkg/logx"
)

// limitedRoster narrows the upstream corporation list to the configured
// corporation and alliance allowlists. Character and notification calls
// pass through untouched.
type limitedRoster struct {
	*upstream.Client

	corporations []int64
	alliances    []int64
	meta         *metadata.Resolver
	log          logx.Logger
}

func newLimitedRoster(c *upstream.Client, corporations, alliances []int64, meta *metadata.Resolver, log logx.Logger) *limitedRoster {
	return &limitedRoster{
		Client:       c,
		corporations: corporations,
		alliances:    alliances,
		meta:         meta,
		log:          log,
	}
}

func (r *limitedRoster) Corporations(ctx context.Context) ([]upstream.Corporation, error) {
	corps, err := r.Client.Corporations(ctx)
	if err != nil {
		return nil, err
	}
	if len(r.corporations) == 0 && len(r.alliances) == 0 {
		return corps, nil
	}
	kept := corps[:0]
	for _, corp := range corps {
		ok, err := r.allowed(ctx, corp.ID)
		if err != nil {
			// Fail open for this corporation rather than silently
			// dropping it from the rotation on a lookup hiccup.
			r.log.Warn("roster limiter lookup failed", logx.Int64("corporation", corp.ID), logx.Err(err))
			ok = true
		}
		if ok {
			kept = append(kept, corp)
		}
	}
	return kept, nil
}

func (r *limitedRoster) allowed(ctx context.Context, corporationID int64) (bool, error) {
	for _, id := range r.corporations {
		if id == corporationID {
			return true, nil
		}
	}
	if len(r.alliances) == 0 {
		return len(r.corporations) == 0, nil
	}
	alliance, err := r.meta.Alliance(ctx, corporationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, id := range r.alliances {
		if id == alliance.ID {
			return true, nil
		}
	}
	return false, nil
}
