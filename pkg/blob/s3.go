package blob

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/TencentBlueKing/bkpaas/pkg/configs/platform"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	expiry    time.Duration
}

var _ Store = &S3Store{}

// NewS3 connects to the bucket configured.
//
// Credentials are found in the default chain of the AWS SDK (environment variables, shared files, ...).
// options are passed to the SDK, to override them.
func NewS3(ctx context.Context, conf *platform.BlobStoreConfig, options ...func(*awsconfig.LoadOptions) error) (*S3Store, error) {
	loaders := []func(*awsconfig.LoadOptions) error{}
	if conf.Region() != "" {
		loaders = append(loaders, awsconfig.WithRegion(conf.Region()))
	}
	loaders = append(loaders, options...)

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ep := conf.Endpoint(); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		o.UsePathStyle = conf.UsePathStyle()
	})
	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    conf.Bucket(),
		expiry:    conf.PresignExpiry(),
	}, nil
}

func (s *S3Store) upstream(err error) error {
	return xe.Wrap(&domerr.Upstream{Service: "blob store", Retryable: true, Cause: err})
}

func (s *S3Store) Put(ctx context.Context, key string, body io.ReadSeeker, size int64) error {
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/gzip"),
	}); err != nil {
		return s.upstream(err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, xe.Wrap(domerr.Missing{Table: "blob " + s.bucket, Identity: key})
		}
		return nil, s.upstream(err)
	}
	return out.Body, nil
}

func (s *S3Store) PresignGet(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignGetObject(
		ctx,
		&s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)},
		s3.WithPresignExpires(s.expiry),
	)
	if err != nil {
		return "", xe.Wrap(err)
	}
	return req.URL, nil
}

func (s *S3Store) PresignPut(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignPutObject(
		ctx,
		&s3.PutObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)},
		s3.WithPresignExpires(s.expiry),
	)
	if err != nil {
		return "", xe.Wrap(err)
	}
	return req.URL, nil
}

func (s *S3Store) URL(key string) string {
	return "s3://" + s.bucket + "/" + key
}
