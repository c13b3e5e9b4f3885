package storage

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"

	"github.com/kube-reporting/theft-lakehouse/pkg/hive"
)

// maxS3Keys is the maximum amount of keys to be returned by a single S3
// list objects API response
const maxS3Keys = 1000

// S3Config locates the bucket holding the lake.
type S3Config struct {
	Bucket   string `json:"bucket" mapstructure:"bucket" toml:"bucket"`
	Prefix   string `json:"prefix,omitempty" mapstructure:"prefix" toml:"prefix,omitempty"`
	Region   string `json:"region,omitempty" mapstructure:"region" toml:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty" mapstructure:"endpoint" toml:"endpoint,omitempty"`
}

// NewS3Store configures an S3 client for the given bucket. A nil creds uses the
// default AWS credential chain. A custom endpoint switches to path style
// addressing for S3 compatible stores.
func NewS3Store(cfg S3Config, creds *credentials.Credentials) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket must be set")
	}
	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	if creds != nil {
		awsCfg = awsCfg.WithCredentials(creds)
	}
	awsSession, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("could not create AWS session: %v", err)
	}
	return &S3Store{
		Bucket: cfg.Bucket,
		Prefix: strings.Trim(cfg.Prefix, "/"),
		s3:     s3.New(awsSession),
	}, nil
}

// S3Store is an implementation of Store backed by an S3 bucket. Keys are
// stored below Prefix.
type S3Store struct {
	Bucket string
	Prefix string
	s3     s3iface.S3API
}

// S3Store must implement the Store interface
var _ Store = &S3Store{}

// Put stores data with a single PutObject call, which S3 applies atomically.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to write 's3://%s/%s': %v", s.Bucket, s.objectKey(key), err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return nil, errors.Wrapf(ErrNotFound, "key 's3://%s/%s'", s.Bucket, s.objectKey(key))
		}
		return nil, fmt.Errorf("failed to retrieve 's3://%s/%s': %v", s.Bucket, s.objectKey(key), err)
	}
	defer out.Body.Close()

	data, err := ioutil.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body from S3 response for 's3://%s/%s': %v",
			s.Bucket, s.objectKey(key), err)
	}
	return data, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	pageFn := func(out *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range out.Contents {
			key := strings.TrimPrefix(aws.StringValue(obj.Key), s.keyPrefix())
			objects = append(objects, Object{Key: key, Size: aws.Int64Value(obj.Size)})
		}
		return true
	}

	err := s.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.Bucket),
		Prefix:  aws.String(s.objectKey(prefix)),
		MaxKeys: aws.Int64(maxS3Keys),
	}, pageFn)
	if err != nil {
		return nil, fmt.Errorf("failed to list 's3://%s/%s': %v", s.Bucket, s.objectKey(prefix), err)
	}
	return objects, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete 's3://%s/%s': %v", s.Bucket, s.objectKey(key), err)
	}
	return nil
}

// Location returns an s3a:// URI, the scheme Hive uses for S3 tables. Only
// keys ending in a slash keep a trailing slash.
func (s *S3Store) Location(key string) string {
	location, err := hive.S3Location(s.Bucket, s.objectKey(key))
	if err != nil {
		return fmt.Sprintf("s3a://%s/%s", s.Bucket, s.objectKey(key))
	}
	if key != "" && !strings.HasSuffix(key, "/") {
		location = strings.TrimSuffix(location, "/")
	}
	return location
}

func (s *S3Store) keyPrefix() string {
	if s.Prefix == "" {
		return ""
	}
	return s.Prefix + "/"
}

// objectKey keeps a trailing slash so directory style prefixes stay intact.
func (s *S3Store) objectKey(key string) string {
	if key == "" {
		return s.keyPrefix()
	}
	joined := path.Join(s.Prefix, key)
	if strings.HasSuffix(key, "/") {
		joined += "/"
	}
	return joined
}
