package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"user-registry/internal/repository/sqlite"
	"user-registry/internal/storage"
)

// BackupConfig names where snapshots are uploaded.
type BackupConfig struct {
	Bucket    string
	KeyPrefix string
	// TempDir holds the local snapshot until upload finishes; defaults to os.TempDir().
	TempDir string
}

// BackupService snapshots the user database and ships it to object storage.
type BackupService struct {
	db      *sql.DB
	storage storage.Service
	cfg     BackupConfig
	logger  *logrus.Logger
	now     func() time.Time
}

func NewBackupService(db *sql.DB, store storage.Service, cfg BackupConfig, logger *logrus.Logger) *BackupService {
	if logger == nil {
		logger = logrus.New()
	}
	return &BackupService{
		db:      db,
		storage: store,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run uploads a fresh snapshot and returns its remote location.
func (b *BackupService) Run(ctx context.Context) (string, error) {
	if b.cfg.Bucket == "" {
		return "", fmt.Errorf("storage bucket is required")
	}

	dir, err := os.MkdirTemp(b.cfg.TempDir, "users-backup-")
	if err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("users-%s-%s.db", b.now().UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
	local := filepath.Join(dir, name)
	if err := sqlite.Snapshot(ctx, b.db, local); err != nil {
		return "", err
	}

	log := b.logger.WithField("snapshot", name)
	location, err := b.storage.UploadFile(ctx, local, storage.UploadOptions{
		Bucket: b.cfg.Bucket,
		Key:    storage.ObjectKey(b.cfg.KeyPrefix, name),
		ProgressCallback: func(done, total int64) {
			log.WithFields(logrus.Fields{"done": done, "total": total}).Debug("upload progress")
		},
	})
	if err != nil {
		return "", err
	}

	log.WithField("location", location).Info("backup uploaded")
	return location, nil
}

// List returns the snapshots stored under the configured prefix, newest first.
func (b *BackupService) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	if b.cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	prefix := storage.ObjectKey(b.cfg.KeyPrefix, "")
	if prefix != "" {
		prefix += "/"
	}
	objects, err := b.storage.ListObjects(ctx, b.cfg.Bucket, prefix)
	if err != nil {
		return nil, err
	}
	// snapshot names embed a sortable UTC timestamp
	slices.SortFunc(objects, func(x, y storage.ObjectInfo) int {
		return strings.Compare(y.Key, x.Key)
	})
	return objects, nil
}
