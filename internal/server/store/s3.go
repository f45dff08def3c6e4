package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/cfghost/internal/common"
	"github.com/dmitrijs2005/cfghost/internal/logging"
	"github.com/dmitrijs2005/cfghost/internal/naming"
)

var (
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		return config.LoadDefaultConfig(ctx, optFns...)
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// s3API is the slice of *s3.Client the store uses.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Options struct {
	Region       string
	AccessKey    string
	SecretKey    string
	Endpoint     string // MinIO or another S3-compatible server
	Bucket       string
	Prefix       string
	UsePathStyle bool
}

// S3Store keeps artifacts as objects named {prefix}/{key}. Exclusive
// creation relies on conditional writes (If-None-Match: *).
type S3Store struct {
	client s3API
	bucket string
	prefix string
	stager *Stager
	log    logging.Logger
}

func NewS3Store(ctx context.Context, opts S3Options, stager *Stager, log logging.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return newS3Store(client, opts.Bucket, opts.Prefix, stager, log), nil
}

func newS3Store(client s3API, bucket, prefix string, stager *Stager, log logging.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		stager: stager,
		log:    log.With("module", "store", "backend", "s3", "bucket", bucket),
	}
}

func (s *S3Store) Backend() string { return "s3" }

func (s *S3Store) objectKey(key naming.StorageKey) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	return path.Join(s.prefix, string(key)), nil
}

func (s *S3Store) Exists(ctx context.Context, key naming.StorageKey) (bool, error) {
	k, err := s.objectKey(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &k})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("%w: head %s: %w", common.ErrStorage, key, err)
	}
}

func (s *S3Store) Stage(ctx context.Context, r io.Reader) (*Staged, error) {
	return s.stager.Stage(ctx, r)
}

// Commit uploads the staged bytes with If-None-Match: *, so the bucket
// rejects the write when another commit got there first.
func (s *S3Store) Commit(ctx context.Context, staged *Staged, key naming.StorageKey) error {
	k, err := s.objectKey(key)
	if err != nil {
		return err
	}
	if staged == nil {
		return errors.New("nothing staged")
	}

	data, err := staged.Bytes()
	if err != nil {
		return fmt.Errorf("%w: read staged: %w", common.ErrStorage, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &k,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("text/plain; charset=utf-8"),
		IfNoneMatch:   aws.String("*"),
		Metadata: map[string]string{
			"checksum":   staged.Checksum(),
			"size":       strconv.FormatInt(staged.Size(), 10),
			"created-at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("key %s: %w", key, common.ErrAlreadyExists)
		}
		return fmt.Errorf("%w: put %s: %w", common.ErrStorage, key, err)
	}

	if err := staged.Discard(); err != nil {
		s.log.Warn(ctx, "failed to remove staged upload", "key", key, "error", err)
	}
	return nil
}

func (s *S3Store) Read(ctx context.Context, key naming.StorageKey) ([]byte, error) {
	k, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &k})
	if err != nil {
		if isNotFound(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("%w: get %s: %w", common.ErrStorage, key, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", common.ErrStorage, key, err)
	}
	return b, nil
}

// SweepStaging only has local staging to clean; objects are never written
// partially.
func (s *S3Store) SweepStaging(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.stager.Sweep(ctx, olderThan)
}

type httpStatusError interface {
	HTTPStatusCode() int
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	var hs httpStatusError
	return errors.As(err, &hs) && hs.HTTPStatusCode() == http.StatusNotFound
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	var hs httpStatusError
	if errors.As(err, &hs) {
		switch hs.HTTPStatusCode() {
		case http.StatusPreconditionFailed, http.StatusConflict:
			return true
		}
	}
	return false
}
