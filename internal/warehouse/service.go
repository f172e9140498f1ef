// Package warehouse drives the warehouse lifecycle: creation against a
// validated storage profile, the Active⇌Inactive machine, storage-profile
// swaps with write-through secrets, protection, and deletion with its task
// and protection guards. Every observable mutation publishes the new
// version to the entity cache after commit.
package warehouse

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"catalog.evalgo.org/internal/cache"
	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/secrets"
	"catalog.evalgo.org/internal/store"
)

// StorageValidator normalizes a storage profile and verifies the catalog
// can actually reach the location it describes, before anything is
// committed. Implementations talk to the object store; the catalog core
// never does data-plane I/O itself.
type StorageValidator interface {
	Validate(ctx context.Context, profile model.StorageProfile, credentials []byte) (model.StorageProfile, error)
}

// Service is the warehouse lifecycle service.
type Service struct {
	store     store.Store
	cache     *cache.Cache
	secrets   secrets.Store
	validator StorageValidator
	logger    *logrus.Logger
}

// New wires the service. validator may be nil to accept profiles
// unchecked (tests); logger nil falls back to the standard logger.
func New(st store.Store, c *cache.Cache, sec secrets.Store, validator StorageValidator, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{store: st, cache: c, secrets: sec, validator: validator, logger: logger}
}

// CreateRequest carries everything needed to create a warehouse.
type CreateRequest struct {
	ProjectID      ids.ProjectID
	Name           string
	StorageProfile model.StorageProfile
	// Credentials is the opaque secret blob stored for the profile; nil
	// means credential-less access (e.g. instance roles).
	Credentials   []byte
	DeleteProfile model.TabularDeleteProfile
}

// Create validates the profile, persists the secret, then creates the
// warehouse. The secret is written before the warehouse row; if the
// transaction rolls back the orphan secret is left behind on purpose,
// which keeps retries safe.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Warehouse, error) {
	if req.Name == "" {
		return nil, catalogerr.ErrInvalidName
	}
	if len(req.Name) > 128 {
		return nil, catalogerr.ErrNameTooLong
	}
	profile, err := s.validateProfile(ctx, req.StorageProfile, req.Credentials)
	if err != nil {
		return nil, err
	}

	var secretID *ids.SecretID
	if req.Credentials != nil {
		id, err := s.secrets.Create(ctx, req.Credentials)
		if err != nil {
			return nil, err
		}
		secretID = &id
	}

	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	w, err := tx.CreateWarehouse(ctx, model.Warehouse{
		ProjectID:            req.ProjectID,
		Name:                 req.Name,
		StorageProfile:       profile,
		StorageSecretID:      secretID,
		Status:               model.WarehouseStatusActive,
		TabularDeleteProfile: req.DeleteProfile,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.cache.PublishWarehouse(ctx, w)
	s.logger.WithFields(logrus.Fields{
		"warehouse_id": w.WarehouseID.String(),
		"project_id":   w.ProjectID.String(),
	}).Info("created warehouse")
	return w, nil
}

// Get resolves a warehouse through the cache. Inactive warehouses are
// suppressed unless includeInactive.
func (s *Service) Get(ctx context.Context, id ids.WarehouseID, policy cache.Policy, includeInactive bool) (*model.Warehouse, error) {
	w, err := s.cache.GetWarehouse(ctx, id, policy)
	if err != nil || w == nil {
		return nil, err
	}
	if w.Inactive() && !includeInactive {
		return nil, nil
	}
	return w, nil
}

// GetByName resolves by project-scoped name on the authoritative store.
func (s *Service) GetByName(ctx context.Context, projectID ids.ProjectID, name string, includeInactive bool) (*model.Warehouse, error) {
	w, err := s.store.GetWarehouseByName(ctx, projectID, name)
	if err != nil || w == nil {
		return nil, err
	}
	if w.Inactive() && !includeInactive {
		return nil, nil
	}
	s.cache.PublishWarehouse(ctx, w)
	return w, nil
}

// List lists a project's warehouses.
func (s *Service) List(ctx context.Context, projectID ids.ProjectID, includeInactive bool) ([]model.Warehouse, error) {
	return s.store.ListWarehouses(ctx, projectID, store.ListWarehousesQuery{IncludeInactive: includeInactive})
}

// Rename changes the warehouse name.
func (s *Service) Rename(ctx context.Context, id ids.WarehouseID, name string) (*model.Warehouse, error) {
	if name == "" {
		return nil, catalogerr.ErrInvalidName
	}
	if len(name) > 128 {
		return nil, catalogerr.ErrNameTooLong
	}
	return s.mutate(ctx, id, func(tx store.WriteTx) (*model.Warehouse, error) {
		return tx.RenameWarehouse(ctx, id, name)
	})
}

// Activate moves the warehouse to active.
func (s *Service) Activate(ctx context.Context, id ids.WarehouseID) (*model.Warehouse, error) {
	return s.mutate(ctx, id, func(tx store.WriteTx) (*model.Warehouse, error) {
		return tx.SetWarehouseStatus(ctx, id, model.WarehouseStatusActive)
	})
}

// Deactivate moves the warehouse to inactive; reads under it are
// suppressed from here on.
func (s *Service) Deactivate(ctx context.Context, id ids.WarehouseID) (*model.Warehouse, error) {
	return s.mutate(ctx, id, func(tx store.WriteTx) (*model.Warehouse, error) {
		return tx.SetWarehouseStatus(ctx, id, model.WarehouseStatusInactive)
	})
}

// SetDeletionProfile swaps the tabular soft/hard delete policy.
func (s *Service) SetDeletionProfile(ctx context.Context, id ids.WarehouseID, p model.TabularDeleteProfile) (*model.Warehouse, error) {
	return s.mutate(ctx, id, func(tx store.WriteTx) (*model.Warehouse, error) {
		return tx.SetWarehouseDeletionProfile(ctx, id, p)
	})
}

// SetProtected toggles delete protection.
func (s *Service) SetProtected(ctx context.Context, id ids.WarehouseID, protected bool) (*model.Warehouse, error) {
	return s.mutate(ctx, id, func(tx store.WriteTx) (*model.Warehouse, error) {
		return tx.SetWarehouseProtected(ctx, id, protected)
	})
}

// UpdateStorageProfile validates and normalizes the new profile, writes
// the new secret, swaps both on the warehouse row, and schedules the old
// secret for best-effort deletion after commit. An update carrying the
// identical profile and no new credentials is a no-op: version unchanged,
// no secret touched.
func (s *Service) UpdateStorageProfile(ctx context.Context, id ids.WarehouseID, profile model.StorageProfile, credentials []byte) (*model.Warehouse, error) {
	normalized, err := s.validateProfile(ctx, profile, credentials)
	if err != nil {
		return nil, err
	}

	current, err := s.store.GetWarehouse(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, catalogerr.ErrWarehouseNotFound
	}
	if credentials == nil && current.StorageProfile.Equal(normalized) {
		return current, nil
	}

	// The new secret exists before the row changes; a rollback strands it
	// deliberately so a retry never races a half-deleted credential.
	newSecretID := current.StorageSecretID
	if credentials != nil {
		created, err := s.secrets.Create(ctx, credentials)
		if err != nil {
			return nil, err
		}
		newSecretID = &created
	}
	oldSecretID := current.StorageSecretID

	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	w, err := tx.SetWarehouseStorageProfile(ctx, id, normalized, newSecretID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if w.Version != current.Version {
		s.cache.PublishWarehouse(ctx, w)
	}

	// Old secret cleanup is detached and best-effort: its failure is
	// logged, never surfaced, and survives request cancellation.
	if credentials != nil && oldSecretID != nil {
		old := *oldSecretID
		logger := s.logger
		sec := s.secrets
		go func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := sec.Delete(cleanupCtx, old); err != nil {
				logger.WithError(err).WithField("secret_id", old.String()).
					Warn("failed to delete replaced storage secret")
			}
		}()
	}
	return w, nil
}

// Delete removes the warehouse. Protection requires force; live tasks
// block the delete with per-queue counts.
func (s *Service) Delete(ctx context.Context, id ids.WarehouseID, force bool) error {
	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := tx.DeleteWarehouse(ctx, id, force); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.cache.InvalidateWarehouse(ctx, id)
	return nil
}

// Statistics returns the current counters plus recent history.
func (s *Service) Statistics(ctx context.Context, id ids.WarehouseID, historyLimit int) (*model.WarehouseStatistics, []model.WarehouseStatisticsHistory, error) {
	stats, err := s.store.GetWarehouseStatistics(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.store.ListWarehouseStatisticsHistory(ctx, id, historyLimit)
	if err != nil {
		return nil, nil, err
	}
	return stats, history, nil
}

// RefreshStatistics recounts and snapshots the statistics.
func (s *Service) RefreshStatistics(ctx context.Context, id ids.WarehouseID) (*model.WarehouseStatistics, error) {
	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	stats, err := tx.RefreshWarehouseStatistics(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}

// mutate runs one write op in its own transaction and publishes the
// post-state when the version advanced.
func (s *Service) mutate(ctx context.Context, id ids.WarehouseID, fn func(store.WriteTx) (*model.Warehouse, error)) (*model.Warehouse, error) {
	before, err := s.store.GetWarehouse(ctx, id)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	w, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if before == nil || w.Version != before.Version {
		s.cache.PublishWarehouse(ctx, w)
	}
	return w, nil
}

func (s *Service) validateProfile(ctx context.Context, profile model.StorageProfile, credentials []byte) (model.StorageProfile, error) {
	if s.validator == nil {
		return profile, nil
	}
	return s.validator.Validate(ctx, profile, credentials)
}
