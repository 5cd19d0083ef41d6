// Package result retrieves the outcome of a terminal run: the serialized
// return value from the shared result store on success, or diagnostic logs on
// failure.
package result

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound is returned when a key does not exist in the object store.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the durable shared store collaborator contract, keyed by
// invocation-derived keys.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
}

// Compile-time interface satisfaction check.
var _ ObjectStore = (*S3Store)(nil)

// S3Store implements ObjectStore over one S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates a store over the given bucket.
func NewS3Store(cfg aws.Config, bucket string) *S3Store {
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket}
}

// Get fetches an object, mapping a missing key onto ErrNotFound.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return body, nil
}

// Put writes an object.
func (s *S3Store) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
