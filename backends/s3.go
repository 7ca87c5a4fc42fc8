package backends

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3 implements Backend using AWS S3. Entries are small, so bodies are
// buffered in memory and every request runs under opTimeout.
type S3 struct {
	client    *s3.Client
	bucket    string
	prefix    string
	opTimeout time.Duration
}

// s3OpTimeout bounds a single S3 request.
const s3OpTimeout = 30 * time.Second

// s3DeleteBatch is the most keys DeleteObjects accepts per request.
const s3DeleteBatch = 1000

// NewS3 creates a backend storing objects in bucket under prefix
// (e.g. "tvserver/"). Credentials come from the default AWS chain.
func NewS3(bucket, prefix string) (*S3, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s3OpTimeout)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %s: %w", bucket, err)
	}

	return &S3{
		client:    client,
		bucket:    bucket,
		prefix:    prefix,
		opTimeout: s3OpTimeout,
	}, nil
}

func (s *S3) Put(key string, body io.Reader, bodySize int64) error {
	data := make([]byte, bodySize)
	if bodySize > 0 {
		if body == nil {
			return fmt.Errorf("size mismatch: expected %d, body is empty", bodySize)
		}
		if n, err := io.ReadFull(body, data); err != nil {
			return fmt.Errorf("size mismatch: expected %d, read %d: %w", bodySize, n, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(bodySize),
		ContentType:   aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"time": strconv.FormatInt(time.Now().Unix(), 10),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return nil
}

func (s *S3) Get(key string) (io.ReadCloser, int64, *time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, 0, nil, true, nil
		}
		return nil, 0, nil, false, fmt.Errorf("failed to get %s from S3: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, 0, nil, false, fmt.Errorf("failed to read %s from S3: %w", key, err)
	}

	// Put records its own write time; LastModified is the fallback.
	putTime := aws.ToTime(out.LastModified)
	if unix, err := strconv.ParseInt(out.Metadata["time"], 10, 64); err == nil {
		putTime = time.Unix(unix, 0)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), &putTime, false, nil
}

func (s *S3) Close() error {
	return nil
}

// Clear deletes every object under the prefix, one listing page at a time.
func (s *S3) Clear() error {
	ctx := context.Background()
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.prefix),
		MaxKeys: aws.Int32(s3DeleteBatch),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list S3 objects: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete S3 objects: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d S3 objects (first: %s: %s)",
				len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

func (s *S3) objectKey(key string) string {
	return s.prefix + key
}

// isS3NotFound checks if an error is a "not found" error from S3.
func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}
