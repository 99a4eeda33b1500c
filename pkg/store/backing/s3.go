package backing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/mitchellh/mapstructure"
)

// S3Store reads repository content out of an S3 (or compatible) bucket.
// Objects are addressed as <key_prefix>/<object id>.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	source string
}

// S3StoreOptions are the per-type options decoded from the service
// configuration's backing.s3 section.
type S3StoreOptions struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// NewS3Store creates a store over the bucket named by source, configured by
// the raw options map from the service configuration.
func NewS3Store(ctx context.Context, source string, options map[string]any) (*S3Store, error) {
	var opts S3StoreOptions
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode s3 backing store options: %w", err)
	}

	if source == "" {
		return nil, fmt.Errorf("s3 backing store: bucket name (repository source) is required")
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("s3 backing store: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(opts.Region))

	// Custom endpoint support for MinIO, Localstack and friends.
	if opts.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck
				return aws.Endpoint{
					URL:               opts.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID, opts.SecretAccessKey, "")
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: source,
		prefix: opts.KeyPrefix,
		source: source,
	}, nil
}

func (s *S3Store) Type() string   { return "s3" }
func (s *S3Store) Source() string { return s.source }

func (s *S3Store) Get(ctx context.Context, id ObjectID) ([]byte, error) {
	key := path.Join(s.prefix, string(id))

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("object %s: %w", id, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", id, err)
	}
	return data, nil
}
