package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/swxsoc/fswatcher/internal/utils"
)

// S3Config describes the bucket an S3Store talks to. Prefix, when set, is
// silently joined onto every key going out and stripped from every key
// coming back, so callers only ever see keys relative to it.
type S3Config struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint points at an S3-compatible server. Setting it switches the
	// client to path-style addressing.
	Endpoint string

	// Static credentials override the default AWS credential chain when both
	// are set.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store implements Store on an S3 (or compatible) bucket.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      *S3Config
}

func NewS3Store(ctx context.Context, cfg *S3Config) (*S3Store, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          200,
			MaxIdleConnsPerHost:   100, // match the expected upload concurrency
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
	}, nil
}

// Put streams src into key via the transfer manager, which switches to
// multipart for large bodies on its own.
func (s *S3Store) Put(ctx context.Context, key string, src io.Reader, opts PutOptions) (*ObjectInfo, error) {
	remoteKey := s.remoteKey(key)
	input := &s3.PutObjectInput{
		Bucket:      &s.cfg.Bucket,
		Key:         &remoteKey,
		Body:        src,
		ContentType: aws.String(utils.DetectContentType(key)),
	}
	if opts.Tagging != "" {
		input.Tagging = &opts.Tagging
	}

	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return nil, classify("put", key, err)
	}

	// UploadOutput has no LastModified; the object was just written.
	return &ObjectInfo{
		Key:          key,
		ETag:         strings.Trim(aws.ToString(out.ETag), "\""),
		Size:         opts.Size,
		LastModified: time.Now().UTC(),
	}, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	remoteKey := s.remoteKey(key)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &remoteKey,
	})
	if err != nil {
		// some compatible stores 404 here, S3 itself does not
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil
		}
		return classify("delete", key, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]*ObjectInfo, error) {
	base := s.keyBase()
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.cfg.Bucket,
		Prefix: aws.String(base + prefix),
	})

	var objects []*ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", prefix, err)
		}

		for _, obj := range page.Contents {
			objects = append(objects, &ObjectInfo{
				Key:          strings.TrimPrefix(aws.ToString(obj.Key), base),
				ETag:         strings.Trim(aws.ToString(obj.ETag), "\""),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return objects, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (*ObjectInfo, bool, error) {
	remoteKey := s.remoteKey(key)
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.cfg.Bucket,
		Key:    &remoteKey,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, classify("head", key, err)
	}

	return &ObjectInfo{
		Key:          key,
		ETag:         strings.Trim(aws.ToString(out.ETag), "\""),
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, true, nil
}

func (s *S3Store) remoteKey(key string) string {
	return s.keyBase() + key
}

func (s *S3Store) keyBase() string {
	if s.cfg.Prefix == "" {
		return ""
	}
	return s.cfg.Prefix + "/"
}

// check that S3Store implements the Store interface
var _ Store = (*S3Store)(nil)
