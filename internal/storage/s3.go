package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Service uploads snapshots to Amazon S3 (or compatible APIs).
type S3Service struct {
	client   *s3.Client
	uploader *manager.Uploader
}

func NewS3Service(client *s3.Client) *S3Service {
	return &S3Service{
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (s *S3Service) UploadFile(ctx context.Context, localPath string, opts UploadOptions) (string, error) {
	if opts.Bucket == "" {
		return "", fmt.Errorf("storage bucket is required")
	}
	if strings.Trim(opts.Key, "/") == "" {
		return "", fmt.Errorf("object key is required")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open file %s: %w", localPath, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat file %s: %w", localPath, err)
	}

	var reader io.Reader = f
	progress := newSnapshotProgress(fi.Size(), opts.ProgressCallback)
	if progress != nil {
		progress.start()
		reader = io.TeeReader(f, progress)
	}

	key := strings.TrimPrefix(opts.Key, "/")
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(opts.Bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String("application/vnd.sqlite3"),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}

	if progress != nil {
		progress.finish()
	}

	return fmt.Sprintf("s3://%s/%s", opts.Bucket, key), nil
}

func (s *S3Service) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if strings.TrimSpace(prefix) != "" {
		input.Prefix = aws.String(prefix)
	}

	var objects []ObjectInfo
	pages := s3.NewListObjectsV2Paginator(s.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects in %s: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: obj.LastModified,
			})
		}
	}
	return objects, nil
}

var _ Service = (*S3Service)(nil)

// progressSteps is how many reports a snapshot upload produces between start and finish.
const progressSteps = 10

// snapshotProgress reports how much of one file the uploader has consumed,
// once per tenth of the file. The uploader reads the body sequentially.
type snapshotProgress struct {
	total    int64
	done     int64
	step     int64
	next     int64
	reported int64
	cb       func(done, total int64)
}

func newSnapshotProgress(total int64, cb func(done, total int64)) *snapshotProgress {
	if cb == nil {
		return nil
	}
	step := total / progressSteps
	if step < 1 {
		step = 1
	}
	return &snapshotProgress{
		total:    total,
		step:     step,
		next:     step,
		reported: -1,
		cb:       cb,
	}
}

func (p *snapshotProgress) Write(b []byte) (int, error) {
	p.done += int64(len(b))
	if p.done >= p.next {
		p.fire()
		for p.next <= p.done {
			p.next += p.step
		}
	}
	return len(b), nil
}

func (p *snapshotProgress) start() {
	p.fire()
}

func (p *snapshotProgress) finish() {
	if p.reported != p.done {
		p.fire()
	}
}

func (p *snapshotProgress) fire() {
	p.reported = p.done
	p.cb(p.done, p.total)
}
