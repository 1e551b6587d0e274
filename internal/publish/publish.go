// Package publish uploads compacted graph artifacts to S3-compatible object
// storage.
package publish

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// S3Config holds connection settings for the artifact bucket
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// objectStore is the subset of *minio.Client used for uploads
type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Publisher copies local files into a bucket under a key prefix
type S3Publisher struct {
	client   objectStore
	bucket   string
	region   string
	prefix   string
	initOnce sync.Once
	initErr  error
}

// NewS3Publisher validates cfg and creates the minio client
func NewS3Publisher(cfg S3Config) (*S3Publisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return newPublisher(client, cfg.Bucket, region, cfg.Prefix)
}

func newPublisher(client objectStore, bucket, region, prefix string) (*S3Publisher, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	return &S3Publisher{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}, nil
}

func (p *S3Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		logrus.Infof("Creating bucket %s", p.bucket)
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// ObjectKey returns the key a local file is stored under
func (p *S3Publisher) ObjectKey(localPath string) string {
	name := filepath.Base(localPath)
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

// Publish uploads every file and returns the keys written, in order. It
// stops at the first failure.
func (p *S3Publisher) Publish(ctx context.Context, files ...string) ([]string, error) {
	if err := p.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	keys := make([]string, 0, len(files))
	for _, file := range files {
		key := p.ObjectKey(file)
		info, err := p.client.FPutObject(ctx, p.bucket, key, file, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		if err != nil {
			return keys, fmt.Errorf("upload %s: %w", file, err)
		}
		logrus.Infof("Uploaded %s to s3://%s/%s (%d bytes)", file, p.bucket, key, info.Size)
		keys = append(keys, key)
	}
	return keys, nil
}
