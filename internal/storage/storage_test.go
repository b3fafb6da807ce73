package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	cases := []struct {
		prefix, name, want string
	}{
		{"users-backups", "users.db", "users-backups/users.db"},
		{"/users-backups/", "/users.db", "users-backups/users.db"},
		{"", "users.db", "users.db"},
		{"users-backups", "", "users-backups"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ObjectKey(tc.prefix, tc.name), "prefix=%q name=%q", tc.prefix, tc.name)
	}
}

func TestSnapshotProgressReportsTenths(t *testing.T) {
	var calls []int64
	p := newSnapshotProgress(100, func(done, total int64) {
		assert.Equal(t, int64(100), total)
		calls = append(calls, done)
	})
	require.NotNil(t, p)

	p.start()
	for i := 0; i < 20; i++ {
		n, err := p.Write(make([]byte, 5))
		require.NoError(t, err)
		require.Equal(t, 5, n)
	}
	p.finish()

	assert.Equal(t, []int64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, calls)
}

func TestSnapshotProgressLargeWrites(t *testing.T) {
	var calls []int64
	p := newSnapshotProgress(100, func(done, _ int64) { calls = append(calls, done) })

	p.start()
	_, _ = p.Write(make([]byte, 35))
	_, _ = p.Write(make([]byte, 3))
	_, _ = p.Write(make([]byte, 62))
	p.finish()

	assert.Equal(t, []int64{0, 35, 100}, calls)
}

func TestSnapshotProgressTinyFile(t *testing.T) {
	var calls []int64
	p := newSnapshotProgress(3, func(done, _ int64) { calls = append(calls, done) })

	p.start()
	_, _ = p.Write(make([]byte, 3))
	p.finish()

	assert.Equal(t, []int64{0, 3}, calls)
}

func TestSnapshotProgressNilCallback(t *testing.T) {
	assert.Nil(t, newSnapshotProgress(10, nil))
}

func TestUploadFileRequiresBucketAndKey(t *testing.T) {
	s := &S3Service{}
	_, err := s.UploadFile(context.Background(), "users.db", UploadOptions{Key: "k"})
	require.Error(t, err)
	_, err = s.UploadFile(context.Background(), "users.db", UploadOptions{Bucket: "b", Key: "/"})
	require.Error(t, err)
}
