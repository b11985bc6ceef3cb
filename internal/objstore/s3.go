package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/dmitrijs2005/photocatalog/internal/common"
	"github.com/dmitrijs2005/photocatalog/internal/logging"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures an S3 or S3-compatible (MinIO) endpoint.
type S3Options struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

type S3Store struct {
	client S3API
	bucket string
	log    logging.Logger
}

// NewS3Store builds a client from static credentials. With an empty
// BaseEndpoint the default AWS resolver is used.
func NewS3Store(ctx context.Context, opts S3Options, log logging.Logger) (*S3Store, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3StoreFromClient(client, opts.Bucket, log), nil
}

func NewS3StoreFromClient(client S3API, bucket string, log logging.Logger) *S3Store {
	if log == nil {
		log = logging.Nop()
	}
	return &S3Store{client: client, bucket: bucket, log: log.With("bucket", bucket)}
}

func (s *S3Store) Head(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, classify("head", key, err)
	}
	return ObjectInfo{Key: key, ETag: cleanETag(out.ETag), Size: aws.ToInt64(out.ContentLength)}, nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, ObjectInfo{}, classify("get", key, err)
	}
	return out.Body, ObjectInfo{Key: key, ETag: cleanETag(out.ETag), Size: aws.ToInt64(out.ContentLength)}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (ObjectInfo, error) {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		s.log.Error(ctx, "put object failed", "key", key, "error", err)
		return ObjectInfo{}, classify("put", key, err)
	}
	return ObjectInfo{Key: key, ETag: cleanETag(out.ETag), Size: size}, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = classify("delete", key, err)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func cleanETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

// classify maps SDK errors onto the common taxonomy. Anything not known to
// be permanent is treated as transient.
func classify(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return fmt.Errorf("%s %s: %w", op, key, common.ErrNotFound)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "Forbidden":
			return fmt.Errorf("%s %s: %w: %w", op, key, common.ErrUnauthorized, err)
		case "QuotaExceeded", "ServiceQuotaExceededException", "XMinioStorageFull", "EntityTooLarge":
			return fmt.Errorf("%s %s: %w: %w", op, key, common.ErrQuotaExceeded, err)
		case "NoSuchBucket", "InvalidBucketName", "InvalidArgument":
			return fmt.Errorf("%s %s: %w", op, key, err)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", op, key, common.ErrNotFound)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s %s: %w: %w", op, key, common.ErrUnauthorized, err)
		}
	}

	return fmt.Errorf("%s %s: %w: %w", op, key, common.ErrTransient, err)
}
