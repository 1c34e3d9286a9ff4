package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/logging"
)

// S3Client abstracts the S3 client methods we use
type S3Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

const s3MaxKeys = 1000

// S3Config holds the configuration for the S3/Minio client
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Insecure        bool
	UsePathStyle    bool
	MaxSize         int64
}

// S3Fetcher downloads objects named s3://bucket/key.
type S3Fetcher struct {
	client  S3Client
	maxSize int64
}

var _ Fetcher = &S3Fetcher{}

// noOpLogger implements logging.Logger and discards all logs
type noOpLogger struct{}

func (noOpLogger) Logf(logging.Classification, string, ...any) {}

func NewS3Fetcher(ctx context.Context, cfg S3Config) (f *S3Fetcher, err error) {
	var opts []func(*config.LoadOptions) error

	// Disable SDK Log
	opts = append(opts, config.WithClientLogMode(0), config.WithLogger(noOpLogger{}))

	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.Insecure {
		httpClient := &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true, //nolint:gosec // Configuration choose by user
				},
			},
		}
		opts = append(opts, config.WithHTTPClient(httpClient))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return
	}

	clientOpts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.UsePathStyle
			o.ClientLogMode = 0
			o.Logger = noOpLogger{}
		},
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	f = &S3Fetcher{
		client:  s3.NewFromConfig(awsCfg, clientOpts...),
		maxSize: cfg.MaxSize,
	}
	return
}

// parseLocation splits s3://bucket/key into bucket and key
func parseLocation(location string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(location, S3Scheme)
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		err = fmt.Errorf("invalid S3 location %q: bucket name required", location)
		return
	}
	bucket = parts[0]
	if len(parts) > 1 {
		key = parts[1]
	}
	return
}

func (f *S3Fetcher) Fetch(ctx context.Context, location string) (data []byte, name string, err error) {
	bucket, key, err := parseLocation(location)
	if err != nil {
		return
	}
	if key == "" {
		err = fmt.Errorf("invalid S3 location %q: object key required", location)
		return
	}

	head, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = fmt.Errorf("head %s: %w", location, err)
		return
	}
	if f.maxSize > 0 && head.ContentLength != nil && *head.ContentLength > f.maxSize {
		err = fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, location, *head.ContentLength)
		return
	}

	result, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = fmt.Errorf("get %s: %w", location, err)
		return
	}
	defer func() {
		if e := result.Body.Close(); e != nil {
			logger.Error("could not close S3 result body", slog.String("error", e.Error()))
		}
	}()

	data, err = io.ReadAll(result.Body)
	if err != nil {
		return
	}
	name = path.Base(key)
	return
}

// List enumerates the objects under an s3://bucket/prefix location so a
// whole drop directory can be analyzed in one run. Directory markers
// are skipped.
func (f *S3Fetcher) List(ctx context.Context, location string) (locations []string, err error) {
	bucket, prefix, err := parseLocation(location)
	if err != nil {
		return
	}

	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(s3MaxKeys),
	})
	for paginator.HasMorePages() {
		var page *s3.ListObjectsV2Output
		page, err = paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			locations = append(locations, S3Scheme+bucket+"/"+*obj.Key)
		}
	}
	return
}
