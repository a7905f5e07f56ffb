// Package parts maintains the registry of part designs per project.
package parts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/store"
)

const (
	cacheExpiration      = 10 * time.Minute
	cacheCleanupInterval = 30 * time.Minute
)

// Registry finds and creates parts
type Registry struct {
	store  *store.Store
	cache  *gocache.Cache
	logger *zap.Logger
}

// New creates a part registry. Lookups by part number are cached in memory;
// parts are immutable so entries never go stale.
func New(s *store.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  s,
		cache:  gocache.New(cacheExpiration, cacheCleanupInterval),
		logger: logger,
	}
}

func cacheKey(project domain.ProjectID, partNumber string) string {
	return string(project) + "\x00" + partNumber
}

// FindByNumber returns the part with partNumber in project, or nil if none exists
func (r *Registry) FindByNumber(ctx context.Context, partNumber string, project domain.ProjectID) (*domain.Part, error) {
	key := cacheKey(project, partNumber)
	if v, ok := r.cache.Get(key); ok {
		if p, ok := v.(domain.Part); ok {
			return &p, nil
		}
	}

	docs, err := r.store.Query(ctx, domain.CollectionParts,
		store.Eq("project_id", project),
		store.Eq("part_number", partNumber),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find part %s: %w", partNumber, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	var p domain.Part
	if err := docs[0].Decode(&p); err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, p)
	return &p, nil
}

// GetOrCreate returns the part with partNumber in project, creating it if needed.
// Concurrent first calls converge on one record because the id is derived from
// the project and part number.
func (r *Registry) GetOrCreate(ctx context.Context, partNumber string, project domain.ProjectID) (domain.Part, error) {
	partNumber = strings.TrimSpace(partNumber)
	if partNumber == "" {
		return domain.Part{}, domain.NewError("get or create part", "", fmt.Errorf("%w: empty part number", domain.ErrValidation))
	}
	if project == "" {
		return domain.Part{}, domain.NewError("get or create part", partNumber, fmt.Errorf("%w: empty project id", domain.ErrValidation))
	}

	existing, err := r.FindByNumber(ctx, partNumber, project)
	if err != nil {
		return domain.Part{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	id := domain.PartIDFor(project, partNumber)
	var part domain.Part
	created := false
	err = r.store.RunTransaction(ctx, func(tx *store.Tx) error {
		err := tx.Get(ctx, domain.CollectionParts, string(id), &part)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		part = domain.Part{
			ID:         id,
			PartNumber: partNumber,
			ProjectID:  project,
			CreatedAt:  time.Now().UTC(),
		}
		created = true
		return tx.Create(ctx, domain.CollectionParts, string(id), part)
	})
	if err != nil {
		return domain.Part{}, fmt.Errorf("failed to create part %s: %w", partNumber, err)
	}

	if created {
		r.logger.Info("created part",
			zap.String("part_id", string(part.ID)),
			zap.String("part_number", partNumber),
			zap.String("project_id", string(project)),
		)
	}
	r.cache.SetDefault(cacheKey(project, partNumber), part)
	return part, nil
}

// Get returns a part by id
func (r *Registry) Get(ctx context.Context, id domain.PartID) (domain.Part, error) {
	var p domain.Part
	err := r.store.Get(ctx, domain.CollectionParts, string(id), &p)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Part{}, domain.NewError("get part", string(id), domain.ErrNotFound)
	}
	if err != nil {
		return domain.Part{}, fmt.Errorf("failed to get part: %w", err)
	}
	return p, nil
}

// List returns the parts of a project, or every part when project is empty
func (r *Registry) List(ctx context.Context, project domain.ProjectID) ([]domain.Part, error) {
	var where []store.Where
	if project != "" {
		where = append(where, store.Eq("project_id", project))
	}

	docs, err := r.store.Query(ctx, domain.CollectionParts, where...)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}

	parts := make([]domain.Part, 0, len(docs))
	for _, d := range docs {
		var p domain.Part
		if err := d.Decode(&p); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}
