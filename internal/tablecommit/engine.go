// Package tablecommit is the table-commit engine: it applies a batch of
// per-table metadata commits in one write transaction, guarded per table
// by the previous metadata pointer, and verifies afterwards that every
// intended table was actually updated. A non-empty difference means a
// table vanished or lost the optimistic concurrency race; the whole batch
// rolls back and the first missing table is reported.
package tablecommit

import (
	"context"

	"github.com/sirupsen/logrus"

	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/ids"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/internal/store"
)

// MaxParameters is the bind-parameter budget of one statement on the
// relational backend.
const MaxParameters = 65535

// MaxCommitsPerBatch bounds a commit batch by the per-commit bind budget:
// the widest per-table statement binds eight parameters per row, the
// narrowest six, so the batch cap is the stricter of the two quotients.
var MaxCommitsPerBatch = minInt(MaxParameters/8, MaxParameters/6)

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Engine applies commit batches against the catalog store.
type Engine struct {
	store  store.Store
	logger *logrus.Logger
}

// New wires the engine. A nil logger falls back to the standard logger.
func New(st store.Store, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{store: st, logger: logger}
}

// CommitTableTransaction applies all commits atomically and returns the
// updated TableInfo for every table, in input order. Properties on the
// result are injected from the input metadata rather than re-read from
// storage. An empty batch returns an empty slice without opening a
// transaction.
func (e *Engine) CommitTableTransaction(ctx context.Context, warehouseID ids.WarehouseID, commits []model.TableCommit) ([]model.TableInfo, error) {
	if len(commits) == 0 {
		return []model.TableInfo{}, nil
	}
	if len(commits) > MaxCommitsPerBatch {
		return nil, &catalogerr.TooManyUpdatesInCommit{Requested: len(commits), Max: MaxCommitsPerBatch}
	}

	tx, err := e.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	updated, err := tx.CommitTables(ctx, warehouseID, commits)
	if err != nil {
		return nil, err
	}

	// Completeness check: intent minus outcome must be empty.
	updatedSet := make(map[ids.TableID]struct{}, len(updated))
	for _, id := range updated {
		updatedSet[id] = struct{}{}
	}
	for i := range commits {
		if _, ok := updatedSet[commits[i].TableID]; !ok {
			return nil, &catalogerr.TabularNotFound{
				WarehouseID: warehouseID.String(),
				TabularID:   commits[i].TableID.String(),
			}
		}
	}

	// Collect the result rows before the transaction closes so the info
	// reflects exactly the state this batch produced.
	infos := make([]model.TableInfo, 0, len(commits))
	for i := range commits {
		c := &commits[i]
		tab, err := tx.GetTabular(ctx, warehouseID, ids.TabularIDFromTable(c.TableID))
		if err != nil {
			return nil, err
		}
		if tab == nil {
			return nil, &catalogerr.TabularNotFound{
				WarehouseID: warehouseID.String(),
				TabularID:   c.TableID.String(),
			}
		}
		infos = append(infos, model.TableInfo{
			TableID:          c.TableID,
			WarehouseID:      warehouseID,
			NamespaceID:      tab.NamespaceID,
			Name:             tab.Name,
			MetadataLocation: c.NewMetadataLocation,
			FsLocation:       tab.FsLocation,
			FsProtocol:       tab.FsProtocol,
			Properties:       c.NewMetadata.Properties,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	e.logger.WithFields(logrus.Fields{
		"warehouse_id": warehouseID.String(),
		"tables":       len(infos),
	}).Debug("committed table transaction")
	return infos, nil
}
