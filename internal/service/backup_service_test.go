package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"user-registry/internal/domain"
	"user-registry/internal/repository/sqlite"
	"user-registry/internal/storage"
)

type fakeStorage struct {
	uploadErr error

	uploaded []storage.UploadOptions
	users    []domain.User

	listBucket, listPrefix string
}

func (f *fakeStorage) UploadFile(ctx context.Context, localPath string, opts storage.UploadOptions) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	// read the snapshot back before the service removes it
	db, err := sqlite.Open(localPath)
	if err != nil {
		return "", err
	}
	defer db.Close()
	users, err := sqlite.NewUserRepository(db).List(ctx)
	if err != nil {
		return "", err
	}
	f.users = users
	f.uploaded = append(f.uploaded, opts)
	return "s3://" + opts.Bucket + "/" + opts.Key, nil
}

func (f *fakeStorage) ListObjects(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	f.listBucket, f.listPrefix = bucket, prefix
	return []storage.ObjectInfo{
		{Key: prefix + "users-20261018T080000Z-aaaaaaaa.db", Size: 8192},
		{Key: prefix + "users-20261019T080000Z-bbbbbbbb.db", Size: 8192},
	}, nil
}

func newBackupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := sqlite.NewUserRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	require.NoError(t, repo.Create(context.Background(), &domain.User{Username: "alice", Email: "alice@x.com", Password: "pw1"}))
	return db
}

func TestBackupRunUploadsSnapshot(t *testing.T) {
	db := newBackupDB(t)
	store := &fakeStorage{}
	tmp := t.TempDir()

	b := NewBackupService(db, store, BackupConfig{Bucket: "bkt", KeyPrefix: "users-backups", TempDir: tmp}, quietLogger())
	b.now = func() time.Time { return time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC) }

	location, err := b.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, store.uploaded, 1)
	key := store.uploaded[0].Key
	assert.True(t, strings.HasPrefix(key, "users-backups/users-20261019T083000Z-"), key)
	assert.True(t, strings.HasSuffix(key, ".db"), key)
	assert.Equal(t, "s3://bkt/"+key, location)

	require.Len(t, store.users, 1)
	assert.Equal(t, "alice", store.users[0].Username)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "local snapshot should be removed")
}

func TestBackupRunRequiresBucket(t *testing.T) {
	b := NewBackupService(newBackupDB(t), &fakeStorage{}, BackupConfig{}, quietLogger())
	_, err := b.Run(context.Background())
	require.Error(t, err)

	_, err = b.List(context.Background())
	require.Error(t, err)
}

func TestBackupRunPropagatesUploadError(t *testing.T) {
	boom := errors.New("access denied")
	b := NewBackupService(newBackupDB(t), &fakeStorage{uploadErr: boom}, BackupConfig{Bucket: "bkt"}, quietLogger())

	_, err := b.Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestBackupListUsesPrefix(t *testing.T) {
	store := &fakeStorage{}
	b := NewBackupService(newBackupDB(t), store, BackupConfig{Bucket: "bkt", KeyPrefix: "/users-backups/"}, quietLogger())

	objects, err := b.List(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "users-backups/users-20261019T080000Z-bbbbbbbb.db", objects[0].Key, "newest first")
	assert.Equal(t, "bkt", store.listBucket)
	assert.Equal(t, "users-backups/", store.listPrefix)
}
