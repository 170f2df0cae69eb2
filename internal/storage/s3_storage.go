package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3ChunkStore keeps chunks as objects under <prefix>/<uploadId>/ in an
// S3-compatible bucket. Assembly still writes the final file locally.
type S3ChunkStore struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3ChunkStore(config *BackendConfig) (*S3ChunkStore, error) {
	client, err := minio.New(config.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.S3AccessKey, config.S3SecretKey, ""),
		Secure: config.S3UseSSL,
		Region: config.S3Region,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, config.S3Bucket)
	if err != nil {
		return nil, err
	}

	if !exists {
		if err := client.MakeBucket(ctx, config.S3Bucket, minio.MakeBucketOptions{Region: config.S3Region}); err != nil {
			return nil, err
		}
	}

	return &S3ChunkStore{
		client: client,
		bucket: config.S3Bucket,
		prefix: strings.Trim(config.S3Prefix, "/"),
	}, nil
}

func (s *S3ChunkStore) sessionPrefix(uploadID string) string {
	return path.Join(s.prefix, uploadID) + "/"
}

func (s *S3ChunkStore) objectName(key ChunkKey) string {
	return s.sessionPrefix(key.UploadID) + key.name()
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// Put relies on S3 object replacement being atomic per key.
func (s *S3ChunkStore) Put(ctx context.Context, key ChunkKey, reader io.Reader) (int64, error) {
	if err := key.validate(); err != nil {
		return 0, err
	}
	info, err := s.client.PutObject(ctx, s.bucket, s.objectName(key), reader, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (s *S3ChunkStore) Open(ctx context.Context, key ChunkKey) (io.ReadCloser, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s index %d", ErrChunkNotFound, key.UploadID, key.Index)
		}
		return nil, err
	}
	return obj, nil
}

func (s *S3ChunkStore) Size(ctx context.Context, key ChunkKey) (int64, error) {
	if err := key.validate(); err != nil {
		return 0, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, s.objectName(key), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, fmt.Errorf("%w: %s index %d", ErrChunkNotFound, key.UploadID, key.Index)
		}
		return 0, err
	}
	return info.Size, nil
}

func (s *S3ChunkStore) Delete(ctx context.Context, key ChunkKey) error {
	if err := key.validate(); err != nil {
		return err
	}
	return s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{})
}

func (s *S3ChunkStore) DeleteSession(ctx context.Context, uploadID string) (int, error) {
	if err := ValidateSegment(uploadID); err != nil {
		return 0, fmt.Errorf("%w: upload id: %v", ErrInvalidKey, err)
	}

	removed := 0
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.sessionPrefix(uploadID),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return removed, obj.Err
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *S3ChunkStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	root := s.prefix + "/"
	if s.prefix == "" {
		root = ""
	}

	byID := make(map[string]*SessionInfo)
	var order []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    root,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		rest := strings.TrimPrefix(obj.Key, root)
		uploadID, _, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}

		info, exists := byID[uploadID]
		if !exists {
			info = &SessionInfo{UploadID: uploadID}
			byID[uploadID] = info
			order = append(order, uploadID)
		}
		info.Chunks++
		info.Bytes += obj.Size
		if obj.LastModified.After(info.LastModified) {
			info.LastModified = obj.LastModified
		}
	}

	sessions := make([]SessionInfo, 0, len(order))
	for _, id := range order {
		sessions = append(sessions, *byID[id])
	}
	return sessions, nil
}
