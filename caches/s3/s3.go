// Package s3 provides a cache store on S3-compatible object storage
// (AWS S3, MinIO, R2). Each entry is one JSON object; TTL is kept inside the
// object and enforced on read.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/blueberrycongee/unillm/pkg/cache"
	"github.com/blueberrycongee/unillm/pkg/types"
)

// ObjectAPI is the subset of the S3 client used by the store.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds configuration for the S3 store.
type Config struct {
	Bucket      string        `yaml:"bucket"`
	Region      string        `yaml:"region"`
	Endpoint    string        `yaml:"endpoint"` // Custom endpoint (MinIO etc.), enables path-style addressing
	AccessKeyID string        `yaml:"access_key_id"`
	SecretKey   string        `yaml:"secret_key"`
	Prefix      string        `yaml:"prefix"`      // Object key prefix (default: unillm-cache)
	DefaultTTL  time.Duration `yaml:"default_ttl"` // Default TTL (default: 7 days, negative disables)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:     "unillm-cache",
		DefaultTTL: 7 * 24 * time.Hour,
	}
}

// Cache stores entries as objects under Prefix.
type Cache struct {
	client     ObjectAPI
	bucket     string
	prefix     string
	defaultTTL time.Duration
	now        func() time.Time

	stats cache.Counters
}

// New builds an S3 client from the default AWS credential chain, overridden
// by static keys and a custom endpoint when given.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewWithClient wraps an existing client.
func NewWithClient(client ObjectAPI, cfg Config, opts ...Option) *Cache {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	c := &Cache{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		defaultTTL: cfg.DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// objectKey shards objects by the first byte of the digest.
func (c *Cache) objectKey(key cache.Key) string {
	if d := key.Digest(); len(d) >= 2 {
		return path.Join(c.prefix, d[:2], string(key)+".json")
	}
	return path.Join(c.prefix, string(key)+".json")
}

func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

// Get downloads and decodes the object for key. Expired objects are deleted
// and reported as a miss.
func (c *Cache) Get(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	obj, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			c.stats.Misses.Add(1)
			return nil, nil
		}
		c.stats.Errors.Add(1)
		return nil, fmt.Errorf("s3 get: %w", err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		c.stats.Errors.Add(1)
		return nil, fmt.Errorf("s3 read: %w", err)
	}
	entry, err := cache.Decode(data)
	if err != nil {
		c.stats.Errors.Add(1)
		return nil, err
	}

	if entry.Expired(c.now()) {
		c.stats.Misses.Add(1)
		if _, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(c.objectKey(key)),
		}); err != nil {
			c.stats.Errors.Add(1)
		}
		return nil, nil
	}

	c.stats.Hits.Add(1)
	return entry, nil
}

// Put uploads the encoded entry.
func (c *Cache) Put(ctx context.Context, key cache.Key, output *types.InferenceOutput, ttl time.Duration) error {
	entry := cache.NewEntry(key, output, cache.ResolveTTL(ttl, c.defaultTTL), c.now())
	data, err := cache.Encode(entry)
	if err != nil {
		return err
	}

	if _, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}); err != nil {
		c.stats.Errors.Add(1)
		return fmt.Errorf("s3 put: %w", err)
	}
	c.stats.Sets.Add(1)
	return nil
}

// Delete removes the object for key.
func (c *Cache) Delete(ctx context.Context, key cache.Key) error {
	if _, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(key)),
	}); err != nil && !isNotFound(err) {
		c.stats.Errors.Add(1)
		return fmt.Errorf("s3 delete: %w", err)
	}
	c.stats.Deletes.Add(1)
	return nil
}

// Purge walks every object under the prefix. With expiredOnly it downloads
// each object to check its TTL.
func (c *Cache) Purge(ctx context.Context, expiredOnly bool) (int, error) {
	removed := 0
	var token *string
	now := c.now()

	for {
		page, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(c.prefix + "/"),
			ContinuationToken: token,
		})
		if err != nil {
			return removed, fmt.Errorf("s3 list: %w", err)
		}

		for _, obj := range page.Contents {
			if expiredOnly {
				expired, err := c.objectExpired(ctx, aws.ToString(obj.Key), now)
				if err != nil {
					return removed, err
				}
				if !expired {
					continue
				}
			}
			if _, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(c.bucket),
				Key:    obj.Key,
			}); err != nil {
				return removed, fmt.Errorf("s3 delete: %w", err)
			}
			removed++
		}

		if !aws.ToBool(page.IsTruncated) {
			return removed, nil
		}
		token = page.NextContinuationToken
	}
}

func (c *Cache) objectExpired(ctx context.Context, objectKey string, now time.Time) (bool, error) {
	obj, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3 get: %w", err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return false, fmt.Errorf("s3 read: %w", err)
	}
	entry, err := cache.Decode(data)
	if err != nil {
		// Undecodable objects are garbage.
		return true, nil
	}
	return entry.Expired(now), nil
}

// Ping checks the bucket is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	if _, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3 ping: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (c *Cache) Close() error { return nil }

// Stats returns cache statistics.
func (c *Cache) Stats() cache.Stats {
	return c.stats.Snapshot()
}
