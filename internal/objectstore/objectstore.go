// Package objectstore wraps the curated-dataset object store (spec §6:
// "object store", S3-shaped) with the narrow set of operations the
// rewriter needs: paginated prefix listing, server-side copy, batched
// delete, put, and head. It follows the same bucket-scoped wrapper shape
// as the platform's MinIO client but targets raw S3 buckets and prefixes
// directly rather than one-bucket-per-project.
package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// maxDeleteBatch is S3's DeleteObjects limit: at most 1000 keys per call.
const maxDeleteBatch = 1000

// s3API is the subset of *s3.Client this package calls.
type s3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client wraps S3 object operations against a single curated-dataset
// bucket.
type Client struct {
	s3     s3API
	bucket string
}

// New builds a Client targeting bucket.
func New(s3Client s3API, bucket string) *Client {
	return &Client{s3: s3Client, bucket: bucket}
}

// Object is a single listing entry.
type Object struct {
	Key  string
	Size int64
}

// ListByPrefix returns every object under prefix, paginating via
// ContinuationToken until the listing is exhausted. An empty result is
// normal: a partition with no rows under it today is simply absent from
// the destination (spec §4.4: "empty destination is a valid terminal
// state").
func (c *Client) ListByPrefix(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	var token *string

	for {
		resp, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &c.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		for _, obj := range resp.Contents {
			if obj.Key == nil {
				continue
			}
			out = append(out, Object{Key: *obj.Key, Size: aws.ToInt64(obj.Size)})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	return out, nil
}

// CopyObject performs a server-side copy from srcKey to dstKey within the
// bucket, without round-tripping bytes through the caller.
func (c *Client) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	source := c.bucket + "/" + srcKey
	_, err := c.s3.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &c.bucket,
		CopySource: &source,
		Key:        &dstKey,
	})
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", srcKey, dstKey, err)
	}
	return nil
}

// DeleteObjects deletes every key in keys, batching at maxDeleteBatch
// keys per call (the S3 DeleteObjects limit). Returns an error on the
// first batch that fails; keys deleted in earlier batches stay deleted.
func (c *Client) DeleteObjects(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		ids := make([]types.ObjectIdentifier, len(batch))
		for i, k := range batch {
			key := k
			ids[i] = types.ObjectIdentifier{Key: &key}
		}

		_, err := c.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &c.bucket,
			Delete: &types.Delete{Objects: ids},
		})
		if err != nil {
			return fmt.Errorf("delete objects batch [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

// DeletePrefix lists and deletes every object under prefix. Used to clear
// a destination partition before repopulating it from staging (spec
// §4.4 step 3).
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	objects, err := c.ListByPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return nil
	}
	keys := make([]string, len(objects))
	for i, o := range objects {
		keys[i] = o.Key
	}
	return c.DeleteObjects(ctx, keys)
}

// PutObject writes body to key.
func (c *Client) PutObject(ctx context.Context, key string, body []byte) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
		Body:   newReadSeeker(body),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// HeadObject reports whether key exists, returning its size if so.
func (c *Client) HeadObject(ctx context.Context, key string) (int64, bool, error) {
	out, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &c.bucket, Key: &key})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("head object %s: %w", key, err)
	}
	return aws.ToInt64(out.ContentLength), true, nil
}
