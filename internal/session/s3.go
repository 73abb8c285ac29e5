package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/oszuidwest/zwfm-livecam/internal/types"
)

// maxObjectSize bounds how much of the stored object is read.
const maxObjectSize = 64 * 1024

// S3Config holds S3-compatible storage settings.
type S3Config struct {
	Bucket          string
	Key             string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// ObjectAPI is the subset of the S3 client used by S3Store.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps the session as a single object in an S3-compatible bucket.
type S3Store struct {
	api    ObjectAPI
	bucket string
	key    string
}

// NewS3Client creates an S3 client for cfg. A custom endpoint switches to
// path-style addressing for S3-compatible services.
func NewS3Client(cfg S3Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
			o.Region = region
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.New(s3.Options{}, options...)
}

// NewS3Store returns an S3Store that stores the session under bucket/key.
func NewS3Store(api ObjectAPI, bucket, key string) *S3Store {
	if key == "" {
		key = "livecam/session.json"
	}
	return &S3Store{api: api, bucket: bucket, key: key}
}

// Load implements Store.
func (s *S3Store) Load(ctx context.Context) (*types.Session, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session object: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxObjectSize))
	if err != nil {
		return nil, fmt.Errorf("read session object: %w", err)
	}
	return decode(data)
}

// Save implements Store.
func (s *S3Store) Save(ctx context.Context, sess *types.Session) error {
	data, err := encode(sess, time.Now())
	if err != nil {
		return err
	}
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put session object: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *S3Store) Clear(ctx context.Context) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return fmt.Errorf("delete session object: %w", err)
	}
	return nil
}
