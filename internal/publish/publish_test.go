package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	exists    bool
	made      []string
	uploads   map[string]string
	failOn    string
	existsErr error
}

func (f *fakeStore) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeStore) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	f.made = append(f.made, bucketName)
	f.exists = true
	return nil
}

func (f *fakeStore) FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if filePath == f.failOn {
		return minio.UploadInfo{}, errors.New("connection reset")
	}
	if f.uploads == nil {
		f.uploads = make(map[string]string)
	}
	f.uploads[objectName] = filePath
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: 1}, nil
}

func TestPublishCreatesBucketOnce(t *testing.T) {
	store := &fakeStore{}
	p, err := newPublisher(store, "graphs", "us-east-1", "/runs/2026/")
	require.NoError(t, err)

	keys, err := p.Publish(context.Background(), "/data/out/graph.bin", "/data/out/metadata.bin")
	require.NoError(t, err)
	assert.Equal(t, []string{"runs/2026/graph.bin", "runs/2026/metadata.bin"}, keys)
	assert.Equal(t, []string{"graphs"}, store.made)
	assert.Equal(t, "/data/out/graph.bin", store.uploads["runs/2026/graph.bin"])

	_, err = p.Publish(context.Background(), "/data/out/graph_reverse.bin")
	require.NoError(t, err)
	assert.Len(t, store.made, 1)
}

func TestPublishStopsOnFailure(t *testing.T) {
	store := &fakeStore{exists: true, failOn: "b.bin"}
	p, err := newPublisher(store, "graphs", "", "")
	require.NoError(t, err)

	keys, err := p.Publish(context.Background(), "a.bin", "b.bin", "c.bin")
	require.Error(t, err)
	assert.Equal(t, []string{"a.bin"}, keys)
	assert.NotContains(t, store.uploads, "c.bin")
}

func TestPublishBucketError(t *testing.T) {
	store := &fakeStore{existsErr: errors.New("access denied")}
	p, err := newPublisher(store, "graphs", "", "")
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), "a.bin")
	assert.ErrorContains(t, err, "access denied")
}

func TestNewS3PublisherValidation(t *testing.T) {
	_, err := NewS3Publisher(S3Config{Bucket: "b", AccessKey: "a", SecretKey: "s"})
	assert.ErrorContains(t, err, "endpoint")

	_, err = NewS3Publisher(S3Config{Endpoint: "localhost:9000", Bucket: "b"})
	assert.ErrorContains(t, err, "access key")

	_, err = NewS3Publisher(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"})
	assert.ErrorContains(t, err, "bucket")

	p, err := NewS3Publisher(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "graph.bin", p.ObjectKey("out/graph.bin"))
}
