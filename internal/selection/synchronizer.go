package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/user/chatctl/internal/types"
)

var ErrNotInCatalog = errors.New("not in catalog")

// Persistence keys owned by the synchronizer.
const (
	KeyProvider        = "selection.provider_id"
	KeyModel           = "selection.model_id"
	KeyDefaultsApplied = "selection.defaults_applied"
)

// Synchronizer is the only writer of the persisted selection.
type Synchronizer struct {
	catalog types.CatalogService
	store   types.Persistence

	mu        sync.Mutex
	providers []types.Provider
	models    []types.Model
	// modelsFor is the provider the current model catalog was loaded for.
	modelsFor types.ProviderID
	current   types.Selection
	// gen changes whenever the provider selection or identity changes, so a
	// model load that started before is discarded.
	gen uint64
}

func New(catalog types.CatalogService, store types.Persistence) *Synchronizer {
	return &Synchronizer{catalog: catalog, store: store}
}

func (s *Synchronizer) Selection() types.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Synchronizer) Providers() []types.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Provider(nil), s.providers...)
}

func (s *Synchronizer) Models() []types.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Model(nil), s.models...)
}

// LoadProviders fetches the provider catalog, reconciles the provider
// selection and then loads the models of the resulting provider.
func (s *Synchronizer) LoadProviders(ctx context.Context) error {
	providers, err := s.catalog.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("loading providers: %w", err)
	}
	persisted, err := s.persisted(ctx, KeyProvider)
	if err != nil {
		return err
	}

	ids := make([]types.ProviderID, len(providers))
	for i, p := range providers {
		ids[i] = p.ID
	}

	s.mu.Lock()
	s.providers = providers
	chosen, fromDefault := Reconcile(s.current.ProviderID, types.ProviderID(persisted), ids)
	changed := chosen != s.current.ProviderID
	if changed {
		s.switchProviderLocked(chosen)
	}
	s.mu.Unlock()

	if changed {
		slog.Debug("provider reconciled", "provider_id", chosen, "default", fromDefault)
	}
	if err := s.write(ctx, KeyProvider, string(chosen)); err != nil {
		return err
	}
	if chosen == "" {
		return nil
	}
	return s.LoadModels(ctx)
}

// LoadModels fetches the models of the selected provider and reconciles the
// model selection. A result for a provider that is no longer selected is
// dropped.
func (s *Synchronizer) LoadModels(ctx context.Context) error {
	s.mu.Lock()
	provider := s.current.ProviderID
	gen := s.gen
	s.mu.Unlock()

	if provider == "" {
		return nil
	}

	models, err := s.catalog.ListModels(ctx, provider)
	if err != nil {
		return fmt.Errorf("loading models: %w", err)
	}
	persisted, err := s.persisted(ctx, KeyModel)
	if err != nil {
		return err
	}

	ids := make([]types.ModelID, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}

	s.mu.Lock()
	if gen != s.gen || provider != s.current.ProviderID {
		s.mu.Unlock()
		slog.Debug("discarding stale model catalog", "provider_id", provider)
		return nil
	}
	s.models = models
	s.modelsFor = provider
	chosen, fromDefault := Reconcile(s.current.ModelID, types.ModelID(persisted), ids)
	s.current.ModelID = chosen
	complete := s.current.Complete()
	s.mu.Unlock()

	if err := s.write(ctx, KeyModel, string(chosen)); err != nil {
		return err
	}
	if complete && fromDefault {
		return s.markDefaultsApplied(ctx)
	}
	return nil
}

// SelectProvider switches provider. The model catalog and selection are
// invalidated and reloaded for the new provider.
func (s *Synchronizer) SelectProvider(ctx context.Context, id types.ProviderID) error {
	s.mu.Lock()
	found := false
	for _, p := range s.providers {
		if p.ID == id {
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("provider %s: %w", id, ErrNotInCatalog)
	}
	if id == s.current.ProviderID && s.modelsFor == id {
		s.mu.Unlock()
		return nil
	}
	s.switchProviderLocked(id)
	s.mu.Unlock()

	if err := s.write(ctx, KeyProvider, string(id)); err != nil {
		return err
	}
	if err := s.write(ctx, KeyModel, ""); err != nil {
		return err
	}
	return s.LoadModels(ctx)
}

func (s *Synchronizer) switchProviderLocked(id types.ProviderID) {
	s.current = types.Selection{ProviderID: id}
	s.models = nil
	s.modelsFor = ""
	s.gen++
}

// SelectModel chooses a model from the current catalog.
func (s *Synchronizer) SelectModel(ctx context.Context, id types.ModelID) error {
	s.mu.Lock()
	found := false
	for _, m := range s.models {
		if m.ID == id {
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("model %s: %w", id, ErrNotInCatalog)
	}
	s.current.ModelID = id
	s.mu.Unlock()

	return s.write(ctx, KeyModel, string(id))
}

// Reset forgets every selection, in memory and persisted. It runs on identity
// change.
func (s *Synchronizer) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.providers = nil
	s.switchProviderLocked("")
	s.mu.Unlock()

	if err := s.store.Clear(ctx, KeyProvider, KeyModel, KeyDefaultsApplied); err != nil {
		return fmt.Errorf("clearing selection: %w", err)
	}
	return nil
}

// DefaultsApplied reports whether a full selection was ever established from
// catalog defaults for the current identity.
func (s *Synchronizer) DefaultsApplied(ctx context.Context) (bool, error) {
	v, err := s.persisted(ctx, KeyDefaultsApplied)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

func (s *Synchronizer) markDefaultsApplied(ctx context.Context) error {
	return s.write(ctx, KeyDefaultsApplied, "true")
}

func (s *Synchronizer) persisted(ctx context.Context, key string) (string, error) {
	v, _, err := s.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	return v, nil
}

// write persists value under key, clearing it when empty. Unchanged values are
// not written.
func (s *Synchronizer) write(ctx context.Context, key, value string) error {
	old, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	if value == "" {
		if !ok {
			return nil
		}
		if err := s.store.Clear(ctx, key); err != nil {
			return fmt.Errorf("clearing %s: %w", key, err)
		}
		return nil
	}
	if ok && old == value {
		return nil
	}
	if err := s.store.Set(ctx, key, value); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}
