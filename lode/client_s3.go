package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Config locates an archive in an S3 bucket or an S3-compatible store
// such as R2 or MinIO.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every object key.
	Prefix string
	// Region overrides the region of the default AWS config chain.
	Region string
	// Endpoint replaces the AWS endpoint for S3-compatible stores.
	Endpoint string
	// UsePathStyle puts the bucket in the URL path instead of the host.
	UsePathStyle bool
}

// Validate reports a missing bucket.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("archive: s3 bucket is required")
	}
	return nil
}

// clientOptions translates the endpoint settings into s3 client options.
func (c S3Config) clientOptions(o *s3.Options) {
	if c.Endpoint != "" {
		o.BaseEndpoint = &c.Endpoint
	}
	o.UsePathStyle = c.UsePathStyle
}

// ParseS3Path splits "bucket/some/prefix" into bucket and prefix.
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(strings.TrimPrefix(path, "s3://"), "/")
	return bucket, prefix
}

// NewS3Archive creates an archive in S3. Credentials come from the
// default AWS chain: environment, shared config, then instance role.
func NewS3Archive(ctx context.Context, cfg Config, s3cfg S3Config) (*Archive, error) {
	factory, err := s3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewArchive(cfg, factory)
}

func s3Factory(ctx context.Context, s3cfg S3Config) (lode.StoreFactory, error) {
	if err := s3cfg.Validate(); err != nil {
		return nil, err
	}

	var load []func(*awsconfig.LoadOptions) error
	if s3cfg.Region != "" {
		load = append(load, awsconfig.WithRegion(s3cfg.Region))
	}
	aws, err := awsconfig.LoadDefaultConfig(ctx, load...)
	if err != nil {
		return nil, WrapInitError(fmt.Errorf("load aws config: %w", err), s3cfg.Bucket)
	}
	client := s3.NewFromConfig(aws, s3cfg.clientOptions)

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{Bucket: s3cfg.Bucket, Prefix: s3cfg.Prefix})
	}, nil
}
