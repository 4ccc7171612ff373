package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/assetcache/assetcache/internal/config"
	"github.com/assetcache/assetcache/pkg/errors"
	"github.com/assetcache/assetcache/pkg/types"
)

// S3Fetcher retrieves asset bytes from s3://bucket/key source locations.
// The client is built lazily on first use so engines that never see an s3
// location pay nothing for it.
type S3Fetcher struct {
	cfg    config.S3Config
	logger *zap.Logger

	once    sync.Once
	client  *s3.Client
	initErr error
}

// NewS3Fetcher creates the s3:// transport.
func NewS3Fetcher(cfg config.S3Config, logger *zap.Logger) *S3Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Fetcher{
		cfg:    cfg,
		logger: logger.Named("fetch.s3"),
	}
}

// Fetch performs a single-object GetObject for the location.
func (f *S3Fetcher) Fetch(ctx context.Context, location string) (*types.FetchResult, error) {
	bucket, key, err := parseS3Location(location)
	if err != nil {
		return nil, err
	}

	client, err := f.getClient(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, f.classify(location, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, f.classify(location, err)
	}

	contentType := ""
	if out.ContentType != nil {
		contentType = *out.ContentType
	}

	return &types.FetchResult{
		Data:     data,
		MimeType: mimeType(contentType, location),
	}, nil
}

func (f *S3Fetcher) getClient(ctx context.Context) (*s3.Client, error) {
	f.once.Do(func() {
		opts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(f.cfg.Region),
		}
		if f.cfg.AccessKeyID != "" && f.cfg.SecretAccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					f.cfg.AccessKeyID, f.cfg.SecretAccessKey, "")))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			f.initErr = errors.Wrap(errors.ErrCodeFetchFailed,
				"failed to load AWS configuration", err).
				WithComponent("fetch").WithOperation("s3").
				WithRetryable(false)
			return
		}

		f.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if f.cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(f.cfg.Endpoint)
			}
			if f.cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		})
	})
	return f.client, f.initErr
}

func (f *S3Fetcher) classify(location string, err error) error {
	if isTimeout(err) {
		return errors.Wrap(errors.ErrCodeFetchTimeout,
			fmt.Sprintf("fetch of %s timed out", location), err).
			WithComponent("fetch").WithOperation("s3")
	}
	return errors.Wrap(errors.ErrCodeFetchFailed,
		fmt.Sprintf("fetch of %s failed", location), err).
		WithComponent("fetch").WithOperation("s3")
}

// parseS3Location splits s3://bucket/key into its parts.
func parseS3Location(location string) (bucket, key string, err error) {
	u, parseErr := url.Parse(location)
	if parseErr != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", errors.NewError(errors.ErrCodeSourceUnsupported,
			fmt.Sprintf("invalid s3 location %q (want s3://bucket/key)", location)).
			WithComponent("fetch").WithOperation("s3")
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", errors.NewError(errors.ErrCodeSourceUnsupported,
			fmt.Sprintf("s3 location %q has no object key", location)).
			WithComponent("fetch").WithOperation("s3")
	}
	return u.Host, key, nil
}
