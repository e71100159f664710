package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirSink writes each table to <root>/<folder>/<name>.csv. Files are written
// to a temporary name and renamed, so a table is either complete or absent.
type DirSink struct {
	root string
}

// NewDirSink returns a sink rooted at root.
func NewDirSink(root string) *DirSink {
	return &DirSink{root: root}
}

// Export implements Sink.
func (s *DirSink) Export(ctx context.Context, table Table) error {
	if err := table.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dest := filepath.Join(s.root, filepath.FromSlash(table.Key()))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+table.Name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, table); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move table into place: %w", err)
	}
	return nil
}
