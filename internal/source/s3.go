package source

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config identifies the remote object and how to reach it. Empty access
// keys fall back to the SDK's default credential chain.
type S3Config struct {
	Bucket          string
	Key             string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Source reads raw rows from a CSV object in S3. The object body is
// streamed, not buffered, so memory stays bounded by the CSV reader.
type S3Source struct {
	cfg S3Config

	// newClient is swappable for tests.
	newClient func(ctx context.Context, cfg S3Config) (s3GetObjectAPI, error)
}

type s3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Source creates a source backed by s3://bucket/key.
func NewS3Source(cfg S3Config) *S3Source {
	return &S3Source{cfg: cfg, newClient: defaultS3Client}
}

func (s *S3Source) Name() string {
	return fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, s.cfg.Key)
}

// Open fetches the object and positions the reader past the header row.
// Auth and network failures are SourceUnavailable conditions.
func (s *S3Source) Open(ctx context.Context) (RowReader, error) {
	client, err := s.newClient(ctx, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: building s3 client: %v", ErrSourceUnavailable, err)
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", ErrSourceUnavailable, s.Name(), err)
	}

	reader, err := newCSVRowReader(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return reader, nil
}

func defaultS3Client(ctx context.Context, cfg S3Config) (s3GetObjectAPI, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg), nil
}
