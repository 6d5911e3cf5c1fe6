package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/parley/internal/document"
	"github.com/nidhogg/parley/internal/store"
	"go.uber.org/zap"
)

// Collection is the agent document collection.
const Collection = "agents"

var (
	// ErrNotFound is returned when an agent id does not resolve.
	ErrNotFound = errors.New("agent not found")
	// ErrValidation marks a malformed configuration rejected before merge.
	ErrValidation = errors.New("invalid agent configuration")
)

// Repository owns the agent entity lifecycle.
type Repository struct {
	store  store.DocumentStore
	logger *zap.Logger
}

// NewRepository creates an agent repository on the given document store.
func NewRepository(s store.DocumentStore, logger *zap.Logger) *Repository {
	return &Repository{store: s, logger: logger}
}

// CreateAgent assigns a new id, stamps created_at = updated_at = now and
// writes the full document.
func (r *Repository) CreateAgent(ctx context.Context, spec Create) (*Agent, error) {
	spec.applyDefaults()
	// BSON datetimes carry millisecond precision; truncate up front so the
	// stamped value round-trips unchanged.
	now := time.Now().UTC().Truncate(time.Millisecond)
	a := &Agent{
		ID:               uuid.New().String(),
		Name:             spec.Name,
		Description:      spec.Description,
		WelcomeMessage:   spec.WelcomeMessage,
		SystemPrompt:     spec.SystemPrompt,
		ResponseSettings: spec.ResponseSettings,
		Keywords:         spec.Keywords,
		ExceptionWords:   spec.ExceptionWords,
		Indices:          spec.Indices,
		Files:            spec.Files,
		Role:             spec.Role,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.store.Index(ctx, Collection, a.ID, a.toDocument()); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	r.logger.Info("agent created", zap.String("id", a.ID), zap.String("name", a.Name))
	return a, nil
}

// GetAgent fetches an agent by id.
func (r *Repository) GetAgent(ctx context.Context, id string) (*Agent, error) {
	doc, err := r.store.Get(ctx, Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromDocument(id, doc)
}

// ListAgents returns agents sorted by created_at descending. Size and from
// are caller-supplied pagination bounds with no enforced ceiling.
func (r *Repository) ListAgents(ctx context.Context, size, from int) ([]*Agent, error) {
	hits, err := r.store.Search(ctx, Collection, store.Query{
		SortField: "created_at",
		SortAsc:   false,
		From:      from,
		Size:      size,
	})
	if err != nil {
		return nil, err
	}
	agents := make([]*Agent, 0, len(hits))
	for _, h := range hits {
		a, err := fromDocument(h.ID, h.Source)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// UpdateAgent applies a sparse override set. An empty override returns the
// current state with updated_at untouched. A non-empty override runs the
// merge, bumps updated_at and persists the full merged document as a
// replace, so the stored document always matches what the merge computed.
func (r *Repository) UpdateAgent(ctx context.Context, id string, upd Update) (*Agent, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	overrides := document.StripNil(upd.Overrides())
	if len(overrides) == 0 {
		return r.GetAgent(ctx, id)
	}

	current, err := r.store.Get(ctx, Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	merged := document.Merge(current, overrides)
	merged["updated_at"] = time.Now().UTC().Truncate(time.Millisecond)

	if err := r.store.Replace(ctx, Collection, id, merged); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update agent %s: %w", id, err)
	}
	r.logger.Info("agent updated", zap.String("id", id))
	return fromDocument(id, merged)
}

// DeleteAgent removes the agent document and any agent-scoped collections
// matching "agents-{id}-*". Missing auxiliary collections are not an error;
// a missing agent returns false.
func (r *Repository) DeleteAgent(ctx context.Context, id string) (bool, error) {
	err := r.store.Delete(ctx, Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete agent %s: %w", id, err)
	}
	if err := r.store.DropMatching(ctx, Collection+"-"+id+"-"); err != nil {
		r.logger.Warn("agent-scoped collection cleanup failed",
			zap.String("id", id), zap.Error(err))
	}
	r.logger.Info("agent deleted", zap.String("id", id))
	return true, nil
}
