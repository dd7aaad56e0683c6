package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config selects the bucket and, for MinIO and similar, a custom endpoint.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	// Prefix is prepended to every object key.
	Prefix string
	// HTTPClient replaces the SDK transport; used by tests.
	HTTPClient *http.Client
}

// S3Store keeps each file as one object. File metadata travels as object
// user metadata, so no database table is needed.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

const (
	metaOwner     = "owner-id"
	metaCategory  = "category"
	metaFileName  = "file-name"
	metaHash      = "sha256"
	metaCreatedBy = "created-by"
)

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    time.Now,
	}, nil
}

func (s *S3Store) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return s.prefix + "/" + id
}

func (s *S3Store) idFromKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+"/")
}

func isNotFound(err error) bool {
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

func (s *S3Store) Upload(ctx context.Context, meta Metadata, content io.Reader) (*Metadata, error) {
	if err := Validate(&meta); err != nil {
		return nil, err
	}
	data, hash, err := readLimited(content)
	if err != nil {
		return nil, err
	}

	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = hash
	meta.CreatedAt = s.now().UTC()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(meta.ID)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(meta.Size),
		ContentType:   aws.String(meta.ContentType),
		Metadata: map[string]string{
			metaOwner:     meta.OwnerID,
			metaCategory:  meta.Category,
			metaFileName:  url.QueryEscape(meta.FileName),
			metaHash:      meta.Hash,
			metaCreatedBy: meta.CreatedBy,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}
	return &meta, nil
}

func (s *S3Store) fromObject(id string, size *int64, contentType *string, md map[string]string, lastModified *time.Time) *Metadata {
	m := &Metadata{
		ID:          id,
		Size:        aws.ToInt64(size),
		ContentType: aws.ToString(contentType),
		OwnerID:     lookup(md, metaOwner),
		Category:    lookup(md, metaCategory),
		Hash:        lookup(md, metaHash),
		CreatedBy:   lookup(md, metaCreatedBy),
		CreatedAt:   aws.ToTime(lastModified).UTC(),
	}
	m.FileName = lookup(md, metaFileName)
	if name, err := url.QueryUnescape(m.FileName); err == nil {
		m.FileName = name
	}
	return m
}

// lookup tolerates providers that change the case of metadata keys.
func lookup(md map[string]string, key string) string {
	if v, ok := md[key]; ok {
		return v
	}
	for k, v := range md {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (s *S3Store) Download(ctx context.Context, id string) (io.ReadCloser, *Metadata, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(id))})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("get object: %w", err)
	}
	return out.Body, s.fromObject(id, out.ContentLength, out.ContentType, out.Metadata, out.LastModified), nil
}

func (s *S3Store) GetMetadata(ctx context.Context, id string) (*Metadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(id))})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("head object: %w", err)
	}
	return s.fromObject(id, out.ContentLength, out.ContentType, out.Metadata, out.LastModified), nil
}

// Delete reports ErrBlobNotFound for missing files; S3 itself treats that
// as success.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(id))})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// List walks the bucket and heads every object to read its metadata.
func (s *S3Store) List(ctx context.Context, p ListParams) ([]*Metadata, int, error) {
	var (
		matched []*Metadata
		token   *string
	)
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range out.Contents {
			m, err := s.GetMetadata(ctx, s.idFromKey(aws.ToString(obj.Key)))
			if err != nil {
				if errors.Is(err, ErrBlobNotFound) {
					continue
				}
				return nil, 0, err
			}
			if matches(m, p) {
				matched = append(matched, m)
			}
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	page, total := paginate(matched, p.Limit, p.Offset)
	return page, total, nil
}
