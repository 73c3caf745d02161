// Package upgrade runs one-shot data migrations when the on-disk format
// version changes between releases.
package upgrade

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"flock/pkg/logger"
	"flock/pkg/models"
	"flock/pkg/store"
)

// FormatVersion is the current on-disk format. Bump it together with a
// matching step in sync below.
const FormatVersion = "1"

const inProgressKey = "system:migration_in_progress"

// sync performs the migration work between versions. Steps must be
// idempotent; an interrupted run is simply rerun on the next start.
func sync(ctx context.Context, from, to string) error {
	logger.Info("upgrade_sync_start", zap.String("from", from), zap.String("to", to))

	// Re-stamp every stored group through the role normalizer: older data
	// may predate the forced owner-role permissions.
	keys, err := store.ListKeys("group:")
	if err != nil {
		return err
	}
	for _, k := range keys {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		id := strings.TrimPrefix(k, "group:")
		g, ok, err := store.GetGroup(id)
		if err != nil || !ok {
			logger.Error("upgrade_group_read_failed", zap.String("group", id), zap.Error(err))
			continue
		}
		if !normalizeRoles(&g) {
			continue
		}
		if err := store.SaveGroup(id, g); err != nil {
			logger.Error("upgrade_group_save_failed", zap.String("group", id), zap.Error(err))
			continue
		}
		logger.Info("upgrade_group_roles_normalized", zap.String("group", id))
	}

	logger.Info("upgrade_sync_done", zap.String("from", from), zap.String("to", to))
	return nil
}

// normalizeRoles forces the most senior role to rank 0 with full
// permissions and reports whether the record changed.
func normalizeRoles(g *models.Group) bool {
	ownerName := ""
	best := 0
	for name, role := range g.Roles {
		if ownerName == "" || role.AdminOrder < best || (role.AdminOrder == best && name < ownerName) {
			best = role.AdminOrder
			ownerName = name
		}
	}
	if ownerName == "" {
		return false
	}
	want := models.AllAllowed(0)
	if g.Roles[ownerName] == want {
		return false
	}
	g.Roles[ownerName] = want
	return true
}

// Run checks the stored format version and migrates when it differs.
// Returns true when a migration ran.
func Run(ctx context.Context) (bool, error) {
	stored, err := store.GetFormatVersion()
	if err != nil {
		logger.Error("upgrade_read_version_failed", zap.Error(err))
	}
	if stored == FormatVersion {
		logger.Info("upgrade_noop", zap.String("version", FormatVersion))
		return false, nil
	}

	marker := map[string]string{
		"from":       stored,
		"to":         FormatVersion,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := store.SetJSON(inProgressKey, marker); err != nil {
		return true, fmt.Errorf("write in-progress marker: %w", err)
	}

	if err := sync(ctx, stored, FormatVersion); err != nil {
		logger.Error("upgrade_sync_failed", zap.String("from", stored), zap.Error(err))
		return true, err
	}

	if err := store.SaveFormatVersion(FormatVersion); err != nil {
		return true, fmt.Errorf("persist format version: %w", err)
	}
	if err := store.Delete(inProgressKey); err != nil {
		logger.Error("upgrade_delete_inprogress_failed", zap.Error(err))
	}
	logger.Info("upgrade_version_persisted", zap.String("version", FormatVersion))
	return true, nil
}
