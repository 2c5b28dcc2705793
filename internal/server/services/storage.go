package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/creat233/finderid/internal/common"
	"github.com/creat233/finderid/internal/server/config"
)

// ObjectStore is the slice of S3 the storage service needs.
type ObjectStore interface {
	PresignPut(ctx context.Context, key, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// S3Store keeps every logical bucket under one S3 bucket, one key prefix
// per logical bucket.
type S3Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	validity time.Duration
}

func NewS3Store(ctx context.Context, cfg *config.Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return &S3Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.S3Bucket,
		validity: cfg.PresignValidity,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *S3Store) PresignPut(ctx context.Context, key, contentType string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	req, err := s.presign.PresignPutObject(ctx, in, s3.WithPresignExpires(s.validity))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

// bucketOwners maps a logical bucket to the collection whose row id is the
// first path segment of every object in it.
var bucketOwners = map[string]string{
	"avatars": "mcards",
	"reports": "reported_cards",
}

// StorageService hands out presigned uploads for files attached to rows
// the caller owns.
type StorageService struct {
	store      ObjectStore
	rows       *RowService
	publicBase string
}

func NewStorageService(store ObjectStore, rows *RowService, publicBase string) *StorageService {
	return &StorageService{store: store, rows: rows, publicBase: strings.TrimSuffix(publicBase, "/")}
}

// objectKey validates bucket/p and returns the storage key and the id of
// the row the object belongs to.
func objectKey(bucket, p string) (key, collection, rowID string, err error) {
	collection, ok := bucketOwners[bucket]
	if !ok {
		return "", "", "", fmt.Errorf("%w: unknown bucket %q", common.ErrorValidation, bucket)
	}
	clean := path.Clean("/" + p)[1:]
	if clean == "" || clean != p || strings.Contains(p, "..") {
		return "", "", "", fmt.Errorf("%w: invalid path %q", common.ErrorValidation, p)
	}
	rowID, rest, _ := strings.Cut(clean, "/")
	if rest == "" {
		return "", "", "", fmt.Errorf("%w: path %q must be <id>/<name>", common.ErrorValidation, p)
	}
	return bucket + "/" + clean, collection, rowID, nil
}

func (s *StorageService) authorize(ctx context.Context, userID, collection, rowID string) error {
	if userID == "" {
		return common.ErrorUnauthorized
	}
	row, err := s.rows.repomanager.Rows(s.rows.db).Get(ctx, collection, rowID)
	if err != nil {
		return err
	}
	if row.OwnerID != userID {
		return common.ErrorForbidden
	}
	return nil
}

// Upload returns a presigned PUT URL for bucket/p and the public URL the
// object will be served from.
func (s *StorageService) Upload(ctx context.Context, userID, bucket, p, contentType string) (uploadURL, publicURL string, err error) {
	key, collection, rowID, err := objectKey(bucket, p)
	if err != nil {
		return "", "", err
	}
	if err := s.authorize(ctx, userID, collection, rowID); err != nil {
		return "", "", err
	}

	uploadURL, err = s.store.PresignPut(ctx, key, contentType)
	if err != nil {
		return "", "", fmt.Errorf("presign %s: %w", key, err)
	}
	return uploadURL, s.publicBase + "/" + key, nil
}

func (s *StorageService) Remove(ctx context.Context, userID, bucket, p string) error {
	key, collection, rowID, err := objectKey(bucket, p)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, userID, collection, rowID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
