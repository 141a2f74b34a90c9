package gix

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"qminer/internal/logging"
)

// BulkLoader accumulates postings in a scratch SQLite file, uncached and
// unconstrained by the live index's cache budget, then folds the whole
// thing into a target Gix in one pass (spec §9 "Temporary index for bulk
// load"). This avoids thrashing the live cache with one Add call per
// posting during a large import.
type BulkLoader struct {
	tmpDir string
	dbPath string
	gix    *Gix
}

// NewBulkLoader creates a temp index rooted under baseDir/bulk-<uuid>/.
func NewBulkLoader(baseDir string) (*BulkLoader, error) {
	tmpDir := filepath.Join(baseDir, "bulk-"+uuid.NewString())
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bulk-load scratch dir: %w", err)
	}
	dbPath := filepath.Join(tmpDir, "gix.db")
	g, err := Open(dbPath, ModeCreate, 0) // uncached: every posting is write-through
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to open bulk-load index: %w", err)
	}
	return &BulkLoader{tmpDir: tmpDir, dbPath: dbPath, gix: g}, nil
}

// Add stages one posting delta in the scratch index.
func (b *BulkLoader) Add(key Key, recID uint64, freqDelta int64) error {
	return b.gix.Add(key, recID, freqDelta)
}

// MergeInto folds every staged posting into target, then removes the
// scratch directory. target must not be ReadOnly.
func (b *BulkLoader) MergeInto(target *Gix) error {
	timer := logging.StartTimer(logging.CategoryIndex, "bulk_merge")
	defer timer.Stop()

	if err := target.MergeFrom(b.gix); err != nil {
		return fmt.Errorf("failed to merge bulk-load index: %w", err)
	}
	return b.Close()
}

// Close discards the scratch index without merging it anywhere.
func (b *BulkLoader) Close() error {
	if err := b.gix.Close(); err != nil {
		return fmt.Errorf("failed to close bulk-load index: %w", err)
	}
	if err := os.RemoveAll(b.tmpDir); err != nil {
		return fmt.Errorf("failed to remove bulk-load scratch dir: %w", err)
	}
	return nil
}
