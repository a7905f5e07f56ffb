package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/thatjpcsguy/printtrack/internal/domain"
)

// DefaultURLExpiry is how long presigned download URLs stay valid.
const DefaultURLExpiry = 15 * time.Minute

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner signs download requests.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config configures an S3 store.
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	Prefix         string
	ForcePathStyle bool
	URLExpiry      time.Duration
}

// S3Store keeps blobs in an S3 bucket and returns presigned URLs.
type S3Store struct {
	client    S3API
	presigner Presigner
	cfg       S3Config
}

// NewS3Store creates an S3 store using the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", domain.ErrValidation)
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return NewS3StoreWithClient(client, s3.NewPresignClient(client), cfg), nil
}

// NewS3StoreWithClient creates an S3 store over existing clients.
func NewS3StoreWithClient(client S3API, presigner Presigner, cfg S3Config) *S3Store {
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = DefaultURLExpiry
	}
	return &S3Store{client: client, presigner: presigner, cfg: cfg}
}

func (s *S3Store) key(p string) (string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if s.cfg.Prefix == "" {
		return clean, nil
	}
	return path.Join(strings.Trim(s.cfg.Prefix, "/"), clean), nil
}

// Upload puts data under path and returns a presigned download URL.
func (s *S3Store) Upload(ctx context.Context, p string, data []byte) (string, error) {
	key, err := s.key(p)
	if err != nil {
		return "", domain.NewError("upload", p, errors.Join(domain.ErrUploadFailed, err))
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(ContentType(p, data)),
	})
	if err != nil {
		return "", domain.NewError("upload", s.cfg.Bucket+"/"+key, errors.Join(domain.ErrUploadFailed, err))
	}

	u, err := s.presign(ctx, key)
	if err != nil {
		return "", domain.NewError("upload", s.cfg.Bucket+"/"+key, errors.Join(domain.ErrUploadFailed, err))
	}
	return u, nil
}

// URL returns a presigned download URL for an existing object.
func (s *S3Store) URL(ctx context.Context, p string) (string, error) {
	key, err := s.key(p)
	if err != nil {
		return "", domain.NewError("url", p, err)
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", domain.NewError("url", s.cfg.Bucket+"/"+key, domain.ErrObjectNotFound)
		}
		return "", domain.NewError("url", s.cfg.Bucket+"/"+key, err)
	}

	u, err := s.presign(ctx, key)
	if err != nil {
		return "", domain.NewError("url", s.cfg.Bucket+"/"+key, err)
	}
	return u, nil
}

// Delete removes an object. S3 treats deleting a missing key as success.
func (s *S3Store) Delete(ctx context.Context, p string) error {
	key, err := s.key(p)
	if err != nil {
		return domain.NewError("delete", p, err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return domain.NewError("delete", s.cfg.Bucket+"/"+key, err)
	}
	return nil
}

func (s *S3Store) presign(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.cfg.URLExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign url: %w", err)
	}
	return req.URL, nil
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

	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "NoSuchKey")
}
