package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// legacyImporter marks records carried over from a v1 document.
const legacyImporter = "legacy"

// probeVersion reads only the version field. Documents written before the
// field existed are version 1.
func probeVersion(data []byte) (int, error) {
	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, err
	}
	if probe.Version == nil {
		return 1, nil
	}
	return *probe.Version, nil
}

// v1 layout: a flat map of imported files with unix-second timestamps and
// no status, retry or mode tracking.
type v1Document struct {
	Version       int               `json:"version"`
	LastUpdated   string            `json:"last_updated"`
	ImportedFiles map[string]v1File `json:"imported_files"`
}

type v1File struct {
	LastModified float64 `json:"last_modified"`
	ImportedAt   float64 `json:"imported_at"`
	Chunks       int     `json:"chunks"`
	Collection   string  `json:"collection"`
	Project      string  `json:"project"`
}

func unixSeconds(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	sec := int64(v)
	return time.Unix(sec, int64((v-float64(sec))*1e9)).UTC()
}

// v1 collection names end in _local for the local model; everything else
// was a remote model.
func legacyMode(collection string) string {
	if strings.HasSuffix(collection, "_local") {
		return "local"
	}
	return "remote"
}

// migrateV1 converts a v1 document record by record.
func migrateV1(data []byte) (*Document, error) {
	var old v1Document
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, fmt.Errorf("decode v1 document: %w", err)
	}

	created := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, old.LastUpdated); err == nil {
		created = t.UTC()
	}
	doc := NewDocument(created)
	doc.Metadata.MigratedFrom = 1

	for rawPath, f := range old.ImportedFiles {
		if rawPath == "" {
			return nil, fmt.Errorf("v1 record with empty path")
		}
		path := filepath.Clean(rawPath)
		mode := legacyMode(f.Collection)
		rec := &FileRecord{
			Path:       path,
			Project:    f.Project,
			ModifiedAt: unixSeconds(f.LastModified),
			ImportedAt: unixSeconds(f.ImportedAt),
			Chunks:     f.Chunks,
			Collection: f.Collection,
			Mode:       mode,
			Status:     StatusCompleted,
			Importer:   legacyImporter,
		}
		// v1 recorded empty files as imported; they never were.
		if rec.Chunks <= 0 {
			rec.Chunks = 0
			rec.Status = StatusFailed
			rec.Error = amerrors.EmptyChunkSetReason
		}
		doc.Files[path] = rec

		if f.Collection != "" {
			if _, ok := doc.Collections[f.Collection]; !ok {
				doc.Collections[f.Collection] = &Collection{
					Name:      f.Collection,
					Kind:      KindConversation,
					Project:   f.Project,
					Mode:      mode,
					CreatedAt: rec.ImportedAt,
				}
			}
		}
	}
	doc.recompute()
	return doc, nil
}

// Migrate upgrades an older on-disk document to CurrentVersion. It keeps a
// copy of the original next to it as <path>.v<N>.bak and validates the
// result before replacing the live file. Running it on a current document
// changes nothing. Reports whether a migration happened.
func (s *Store) Migrate(ctx context.Context) (bool, error) {
	migrated := false
	err := s.withLease(ctx, func(lease *Lease) error {
		data, err := os.ReadFile(s.path)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read state: %w", err)
		}

		version, perr := probeVersion(data)
		if perr != nil {
			// Unparseable: surface CorruptState, or quarantine when recovering.
			_, lerr := s.load()
			return lerr
		}
		if version == CurrentVersion {
			return nil
		}
		if version > CurrentVersion {
			return amerrors.UnsupportedVersion(s.path, version, CurrentVersion)
		}

		backup := fmt.Sprintf("%s.v%d.bak", s.path, version)
		if err := writeFileAtomic(backup, data); err != nil {
			return amerrors.MigrationFailure(s.path, version, CurrentVersion, err)
		}

		doc, err := migrateV1(data)
		if err != nil {
			return amerrors.MigrationFailure(s.path, version, CurrentVersion, err)
		}
		doc.Metadata.LastModified = s.now().UTC()

		encoded, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return amerrors.MigrationFailure(s.path, version, CurrentVersion, err)
		}
		if err := validateDocument(encoded); err != nil {
			return amerrors.MigrationFailure(s.path, version, CurrentVersion, err)
		}
		if err := s.locker.Fence(ctx, lease, func() error { return writeFileAtomic(s.path, encoded) }); err != nil {
			if errors.Is(err, amerrors.ErrLockTimeout) {
				return err
			}
			return amerrors.MigrationFailure(s.path, version, CurrentVersion, err)
		}

		s.logger.Info("state_migrated",
			slog.String("path", s.path),
			slog.Int("from", version),
			slog.Int("to", CurrentVersion),
			slog.Int("files", len(doc.Files)),
			slog.String("backup", backup))
		migrated = true
		return nil
	})
	return migrated, err
}
