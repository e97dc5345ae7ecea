package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// S3Config configures the S3 checkpoint backend.
type S3Config struct {
	Bucket string

	// Prefix is prepended to all snapshot keys (e.g., "snapshots/")
	Prefix string

	Region string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	Timeout time.Duration

	StorageClass         types.StorageClass
	ServerSideEncryption bool
}

// DefaultS3Config returns sensible defaults.
func DefaultS3Config(bucket string) S3Config {
	return S3Config{
		Bucket:       bucket,
		Prefix:       "snapshots/",
		Timeout:      30 * time.Second,
		StorageClass: types.StorageClassStandard,
	}
}

// S3Backend stores snapshots as JSON objects in a bucket.
type S3Backend struct {
	cfg    S3Config
	client *s3.Client
}

// NewS3Backend loads the AWS configuration and builds a client.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeBackend, "loading AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &S3Backend{cfg: cfg, client: client}, nil
}

func (b *S3Backend) key(id string) string {
	return b.cfg.Prefix + id + ".json"
}

// Save uploads a snapshot.
func (b *S3Backend) Save(ctx context.Context, s *Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(s)
	if err != nil {
		return seqerr.Wrap(err, seqerr.CodeWriteFailed, "encoding snapshot")
	}
	input := &s3.PutObjectInput{
		Bucket:       aws.String(b.cfg.Bucket),
		Key:          aws.String(b.key(s.ID)),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String("application/json"),
		StorageClass: b.cfg.StorageClass,
	}
	if b.cfg.ServerSideEncryption {
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return seqerr.Wrap(err, seqerr.CodeBackend, "saving snapshot to S3").WithContext("id", s.ID)
	}
	return nil
}

// Load downloads a snapshot.
func (b *S3Backend) Load(ctx context.Context, id string) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, seqerr.Wrap(err, seqerr.CodeBackend, "loading snapshot from S3").WithContext("id", id)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "reading snapshot body").WithContext("id", id)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "decoding snapshot").WithContext("id", id)
	}
	return &s, nil
}

// Delete removes a snapshot object.
func (b *S3Backend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		return seqerr.Wrap(err, seqerr.CodeBackend, "deleting snapshot from S3").WithContext("id", id)
	}
	return nil
}

// List pages through the objects under prefix.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]*Snapshot, error) {
	var out []*Snapshot
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.cfg.Bucket),
		Prefix: aws.String(b.cfg.Prefix + prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, seqerr.Wrap(err, seqerr.CodeBackend, "listing snapshots")
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			id := strings.TrimSuffix(strings.TrimPrefix(key, b.cfg.Prefix), ".json")
			s, err := b.Load(ctx, id)
			if err != nil {
				continue // skip invalid snapshots
			}
			out = append(out, s)
		}
	}
	sortSnapshots(out)
	return out, nil
}

// Name returns "s3".
func (b *S3Backend) Name() string {
	return "s3"
}
