package catalog

import (
	"context"

	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/model"
)

// Source wraps a Loader with an optional archive. Successful loads are
// archived; failed loads fall back to the newest archived generation.
type Source struct {
	loader  Loader
	archive *Archive
	keep    int
	log     logging.Logger
}

// NewSource builds a Source. archive may be nil; keep bounds the number of
// archived generations (0 disables pruning).
func NewSource(loader Loader, archive *Archive, keep int, log logging.Logger) *Source {
	return &Source{loader: loader, archive: archive, keep: keep, log: logging.OrNoop(log)}
}

// Group returns the wrapped loader's group.
func (s *Source) Group() string { return s.loader.Group() }

// Fetch loads a fresh catalog. When the loader fails and an archived
// generation exists it is returned marked Stale together with the
// loader's error.
func (s *Source) Fetch(ctx context.Context) (*model.Catalog, error) {
	cat, err := s.loader.Fetch(ctx)
	if err == nil {
		s.store(ctx, cat)
		return cat, nil
	}
	if s.archive == nil || ctx.Err() != nil {
		return nil, err
	}

	stale, aerr := s.archive.LoadLatest(ctx, s.loader.Group())
	if aerr != nil {
		s.log.Debug(ctx, "no archived catalog to fall back to",
			logging.String("group", s.loader.Group()),
			logging.Err(aerr),
		)
		return nil, err
	}
	stale.Stale = true
	s.log.Warn(ctx, "serving archived catalog",
		logging.String("group", stale.Group),
		logging.Time("fetched_at", stale.FetchedAt),
		logging.Int("size", stale.Size()),
		logging.Err(err),
	)
	return stale, err
}

func (s *Source) store(ctx context.Context, cat *model.Catalog) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.Save(ctx, cat); err != nil {
		s.log.Warn(ctx, "archiving catalog failed", logging.String("group", cat.Group), logging.Err(err))
		return
	}
	if s.keep > 0 {
		if n, err := s.archive.Prune(ctx, cat.Group, s.keep); err != nil {
			s.log.Warn(ctx, "pruning archive failed", logging.Err(err))
		} else if n > 0 {
			s.log.Debug(ctx, "pruned archived catalogs", logging.Int("removed", int(n)))
		}
	}
}
