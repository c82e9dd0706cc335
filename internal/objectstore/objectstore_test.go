package objectstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	pageAt  int // pagination cutoff: first call returns at most this many keys
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if len(*in.Prefix) == 0 || hasPrefix(k, *in.Prefix) {
			keys = append(keys, k)
		}
	}
	sortStrings(keys)

	start := 0
	if in.ContinuationToken != nil {
		fmt.Sscanf(*in.ContinuationToken, "%d", &start)
	}

	pageSize := len(keys)
	if f.pageAt > 0 {
		pageSize = f.pageAt
	}
	end := start + pageSize
	if end > len(keys) {
		end = len(keys)
	}

	var contents []types.Object
	for _, k := range keys[start:end] {
		key := k
		size := int64(len(f.objects[k]))
		contents = append(contents, types.Object{Key: &key, Size: &size})
	}

	out := &s3.ListObjectsV2Output{Contents: contents}
	if end < len(keys) {
		tok := fmt.Sprintf("%d", end)
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = &tok
	}
	return out, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	srcKey := (*in.CopySource)[len(*in.Bucket)+1:]
	body, ok := f.objects[srcKey]
	if !ok {
		return nil, fmt.Errorf("no such source key %s", srcKey)
	}
	f.objects[*in.Key] = body
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, obj := range in.Delete.Objects {
		delete(f.objects, *obj.Key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	buf := make([]byte, 0)
	b := make([]byte, 4096)
	for {
		n, err := in.Body.Read(b)
		buf = append(buf, b[:n]...)
		if err != nil {
			break
		}
	}
	f.objects[*in.Key] = buf
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NotFound{}
	}
	size := int64(len(body))
	return &s3.HeadObjectOutput{ContentLength: &size}, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func TestListByPrefixPagination(t *testing.T) {
	fs := newFakeS3()
	fs.pageAt = 2
	fs.objects["year=2025/month=01/day=15/a.parquet"] = []byte("a")
	fs.objects["year=2025/month=01/day=15/b.parquet"] = []byte("bb")
	fs.objects["year=2025/month=01/day=15/c.parquet"] = []byte("ccc")
	fs.objects["year=2025/month=02/day=01/d.parquet"] = []byte("d")

	client := New(fs, "healthlake-curated")
	objs, err := client.ListByPrefix(context.Background(), "year=2025/month=01/day=15/")
	require.NoError(t, err)
	assert.Len(t, objs, 3)
}

func TestListByPrefixEmptyIsValid(t *testing.T) {
	client := New(newFakeS3(), "healthlake-curated")
	objs, err := client.ListByPrefix(context.Background(), "year=2030/month=01/day=01/")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestCopyObject(t *testing.T) {
	fs := newFakeS3()
	fs.objects["staging/temp_erasure_2025_01_15_abc/a.parquet"] = []byte("data")
	client := New(fs, "healthlake-curated")

	err := client.CopyObject(context.Background(), "staging/temp_erasure_2025_01_15_abc/a.parquet", "year=2025/month=01/day=15/a.parquet")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), fs.objects["year=2025/month=01/day=15/a.parquet"])
}

func TestDeletePrefixClearsDestination(t *testing.T) {
	fs := newFakeS3()
	fs.objects["year=2025/month=01/day=15/a.parquet"] = []byte("a")
	fs.objects["year=2025/month=01/day=15/b.parquet"] = []byte("b")
	fs.objects["year=2025/month=02/day=01/c.parquet"] = []byte("c")
	client := New(fs, "healthlake-curated")

	require.NoError(t, client.DeletePrefix(context.Background(), "year=2025/month=01/day=15/"))

	assert.Len(t, fs.objects, 1)
	_, ok := fs.objects["year=2025/month=02/day=01/c.parquet"]
	assert.True(t, ok)
}

func TestDeleteObjectsBatchesOverLimit(t *testing.T) {
	fs := newFakeS3()
	keys := make([]string, 0, 1500)
	for i := 0; i < 1500; i++ {
		k := fmt.Sprintf("staging/key-%d", i)
		fs.objects[k] = []byte("x")
		keys = append(keys, k)
	}
	client := New(fs, "bucket")

	require.NoError(t, client.DeleteObjects(context.Background(), keys))
	assert.Empty(t, fs.objects)
}

func TestHeadObjectMissingReturnsFalse(t *testing.T) {
	client := New(newFakeS3(), "bucket")
	_, exists, err := client.HeadObject(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPutThenHead(t *testing.T) {
	client := New(newFakeS3(), "bucket")
	require.NoError(t, client.PutObject(context.Background(), "key", []byte("hello")))

	size, exists, err := client.HeadObject(context.Background(), "key")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int64(5), size)
}
