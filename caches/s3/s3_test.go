package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/unillm/pkg/types"
)

// fakeBucket is an in-memory ObjectAPI with one-object pages.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	failGet error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (f *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeBucket) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start = sort.SearchStrings(keys, aws.ToString(in.ContinuationToken))
	}
	if start >= len(keys) {
		return &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}, nil
	}
	out := &s3.ListObjectsV2Output{
		Contents:    []s3types.Object{{Key: aws.String(keys[start])}},
		IsTruncated: aws.Bool(start+1 < len(keys)),
	}
	if start+1 < len(keys) {
		out.NextContinuationToken = aws.String(keys[start+1])
	}
	return out, nil
}

func (f *fakeBucket) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func TestCache_PutAndGet(t *testing.T) {
	bucket := newFakeBucket()
	c := NewWithClient(bucket, Config{Bucket: "b"})
	ctx := context.Background()

	key := "unillm:3f2a9c"
	require.NoError(t, c.Put(ctx, "unillm:3f2a9c", &types.InferenceOutput{Text: "4", Model: "m"}, 0))
	_, stored := bucket.objects["unillm-cache/3f/"+key+".json"]
	assert.True(t, stored, "objects are sharded by digest prefix")

	e, err := c.Get(ctx, "unillm:3f2a9c")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "4", e.Output.Text)
	assert.Equal(t, 7*24*time.Hour, e.TTL)

	miss, err := c.Get(ctx, "unillm:ffff")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, c.Delete(ctx, "unillm:3f2a9c"))
	assert.Zero(t, bucket.len())
	require.NoError(t, c.Ping(ctx))
}

func TestCache_LazyExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	bucket := newFakeBucket()
	c := NewWithClient(bucket, Config{Bucket: "b"}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "aa01", &types.InferenceOutput{Text: "x"}, time.Minute))
	now = now.Add(time.Minute)

	e, err := c.Get(ctx, "aa01")
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Zero(t, bucket.len(), "expired object is deleted on read")
}

func TestCache_GetError(t *testing.T) {
	bucket := newFakeBucket()
	bucket.failGet = errors.New("connection refused")
	c := NewWithClient(bucket, Config{Bucket: "b"})

	_, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Equal(t, int64(1), c.Stats().Errors)
}

func TestCache_Purge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	bucket := newFakeBucket()
	c := NewWithClient(bucket, Config{Bucket: "b"}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "aa01", &types.InferenceOutput{Text: "a"}, time.Second))
	require.NoError(t, c.Put(ctx, "bb02", &types.InferenceOutput{Text: "b"}, time.Hour))
	require.NoError(t, c.Put(ctx, "cc03", &types.InferenceOutput{Text: "c"}, -1))
	bucket.objects["other/zz.json"] = []byte("{}")
	now = now.Add(time.Minute)

	n, err := c.Purge(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.Purge(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, bucket.len(), "objects outside the prefix are left alone")
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
