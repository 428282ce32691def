package version

import (
	"context"
	"fmt"

	"widgetree/internal/model"
)

// RegisterReferrer declares a back-reference field. Only links through
// registered fields keep a tracker from being an orphan.
func (s *Service) RegisterReferrer(ctx context.Context, kind, field string) error {
	return s.store.AtomicVersion(ctx, func(w Writer) error {
		return w.RegisterReferrer(ctx, kind, field)
	})
}

// Referrers lists the registered back-reference fields.
func (s *Service) Referrers(ctx context.Context) ([]model.ReferrerField, error) {
	return s.store.Referrers(ctx)
}

// Link records that field of referrer (kind, referrerID) points at t.
func (s *Service) Link(ctx context.Context, kind, field string, referrerID int64, t *Tracker) error {
	l := model.Link{Kind: kind, Field: field, ReferrerID: referrerID, TrackerID: t.ID}
	err := s.store.AtomicVersion(ctx, func(w Writer) error {
		return w.SetLink(ctx, l)
	})
	if err != nil {
		return err
	}
	s.log.Debug().Str("tracker", t.UID).Str("kind", kind).Str("field", field).Int64("referrer", referrerID).Msg("linked")
	return nil
}

// Unlink empties one referrer field.
func (s *Service) Unlink(ctx context.Context, kind, field string, referrerID int64) error {
	return s.store.AtomicVersion(ctx, func(w Writer) error {
		return w.ClearLink(ctx, kind, field, referrerID)
	})
}

// DeleteReferrer drops every link held by a deleted referrer row.
func (s *Service) DeleteReferrer(ctx context.Context, kind string, referrerID int64) error {
	err := s.store.AtomicVersion(ctx, func(w Writer) error {
		return w.DeleteReferrer(ctx, kind, referrerID)
	})
	if err != nil {
		return fmt.Errorf("deleting referrer %s#%d: %w", kind, referrerID, err)
	}
	return nil
}

// Links lists every link pointing at t, registered or not.
func (t *Tracker) Links(ctx context.Context) ([]model.Link, error) {
	return t.svc.store.LinksTo(ctx, t.ID)
}

// Orphans lists trackers that were once referenced through a registered
// field and no longer are. Trackers never referenced are not orphans.
func (s *Service) Orphans(ctx context.Context) ([]*Tracker, error) {
	rows, err := s.store.Orphans(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Tracker, len(rows))
	for i, r := range rows {
		out[i] = s.tracker(r)
	}
	return out, nil
}
