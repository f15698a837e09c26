package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

// DefaultArchivePrefix is the object prefix used when none is configured.
const DefaultArchivePrefix = "harvests"

// ArchivePath returns "<prefix>/<run_id>.txt".
func ArchivePath(prefix string, runID uuid.UUID) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultArchivePrefix
	}
	return path.Join(prefix, runID.String()+".txt")
}

// Archive uploads the bytes of outputPath from offset on (the lines appended by
// this run) to store and returns the object URI. Earlier runs' lines in the same
// file are not part of the object.
func Archive(
	ctx context.Context,
	store harvest.BlobStore,
	outputPath string,
	offset int64,
	prefix string,
	runID uuid.UUID,
) (string, error) {
	// #nosec G304 -- outputPath is the file this process just wrote.
	f, err := os.Open(outputPath)
	if err != nil {
		return "", fmt.Errorf("open output for archive: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", fmt.Errorf("seek output for archive: %w", err)
	}

	uri, err := store.PutObject(ctx, ArchivePath(prefix, runID), "text/plain; charset=utf-8", f)
	if err != nil {
		return "", fmt.Errorf("archive output: %w", err)
	}
	return uri, nil
}
