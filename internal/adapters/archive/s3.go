// Package archive stores pruned snapshots in S3 before they are deleted.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	jsoniter "github.com/json-iterator/go"

	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

const defaultPrefix = "snapshots/"

// ErrNoBucket is returned when no bucket is configured.
var ErrNoBucket = errors.New("archive bucket is required")

// PutObjectAPI is the part of the S3 client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each snapshot as one JSON object under
// <prefix><league>/<season>/<id>.json.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	log    logger.Logger
}

// Option configures an S3Archiver.
type Option func(*S3Archiver)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(a *S3Archiver) {
		if prefix != "" {
			a.prefix = strings.TrimSuffix(prefix, "/") + "/"
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *S3Archiver) {
		if l != nil {
			a.log = l
		}
	}
}

// New returns an archiver writing through client.
func New(client PutObjectAPI, bucket string, opts ...Option) (*S3Archiver, error) {
	if bucket == "" {
		return nil, ErrNoBucket
	}
	a := &S3Archiver{client: client, bucket: bucket, prefix: defaultPrefix, log: logger.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewFromEnv builds an S3 client from the default AWS credential chain.
func NewFromEnv(ctx context.Context, bucket, region string, opts ...Option) (*S3Archiver, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(s3.NewFromConfig(cfg), bucket, opts...)
}

// ObjectKey returns where snapshot s is stored.
func (a *S3Archiver) ObjectKey(s *model.Snapshot) string {
	return a.prefix + path.Join(s.LeagueID, s.SeasonID, s.ID+".json")
}

// Archive uploads s. Upload failures are transient.
func (a *S3Archiver) Archive(ctx context.Context, s *model.Snapshot) error {
	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(s)
	if err != nil {
		return errs.System("archive snapshot", err)
	}
	key := a.ObjectKey(s)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errs.Transient("archive snapshot", err)
	}
	metrics.RecordSnapshotArchived()
	a.log.Info(ctx, "snapshot archived",
		logger.String("snapshot_id", s.ID),
		logger.String("bucket", a.bucket),
		logger.String("key", key))
	return nil
}
