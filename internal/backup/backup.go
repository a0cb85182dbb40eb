// Package backup dumps the local database tables to CSV files and
// optionally copies them to a Google Cloud Storage bucket.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/dvloznov/budget-sync/internal/logger"
	"github.com/dvloznov/budget-sync/internal/store"
)

// tables lists what a backup covers, in dump order.
var tables = []string{"ledger_items", "augmented_data"}

// Run dumps every table into dir and, when bucket is non-empty, uploads the
// dumps under a unique prefix. It returns the file paths written locally.
//
// Object names look like backup/20230218T120000-5f3a.../ledger_items.csv, so
// successive backups never overwrite each other.
func Run(ctx context.Context, st *store.Store, dir, bucket string) ([]string, error) {
	log := logger.FromContext(ctx)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102T150405")
	var paths []string
	for _, table := range tables {
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.csv", stamp, table))
		if err := dumpTable(ctx, st, table, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
		log.Info().Str("table", table).Str("path", path).Msg("dumped table")
	}

	if bucket == "" {
		return paths, nil
	}

	prefix := fmt.Sprintf("backup/%s-%s", stamp, uuid.NewString())
	client, err := storage.NewClient(ctx)
	if err != nil {
		return paths, fmt.Errorf("Run: create storage client: %w", err)
	}
	defer client.Close()

	for i, table := range tables {
		object := fmt.Sprintf("%s/%s.csv", prefix, table)
		if err := uploadFile(ctx, client, bucket, object, paths[i]); err != nil {
			return paths, fmt.Errorf("Run: uploading %s: %w", table, err)
		}
		log.Info().Str("bucket", bucket).Str("object", object).Msg("uploaded backup")
	}
	return paths, nil
}

func dumpTable(ctx context.Context, st *store.Store, table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dumpTable: %w", err)
	}
	if err := st.Dump(ctx, f, table); err != nil {
		f.Close()
		return fmt.Errorf("dumpTable: %s: %w", table, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("dumpTable: %w", err)
	}
	return nil
}

func uploadFile(ctx context.Context, client *storage.Client, bucket, object, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("uploadFile: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "text/csv"
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("uploadFile: copy to gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("uploadFile: finalize gcs object: %w", err)
	}
	return nil
}
