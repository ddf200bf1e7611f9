// Package storage reads and writes source texts in S3-compatible object
// storage. Sources are uploaded as pre-extracted plain text; the pipeline
// fetches them by the key recorded on the source record.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/threadline-ai/threadline/backend/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func NewS3Client(ctx context.Context) (*s3.Client, error) {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// TextLoader fetches source texts from one bucket.
type TextLoader struct {
	client *s3.Client
	bucket string
}

func NewTextLoader(client *s3.Client, bucket string) *TextLoader {
	return &TextLoader{client: client, bucket: bucket}
}

// LoadText downloads the object at key and returns it as a string. Objects
// that are not valid UTF-8 are rejected rather than silently mangled.
func (l *TextLoader) LoadText(ctx context.Context, key string) (string, error) {
	result, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get source text from S3: %w", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return "", fmt.Errorf("failed to read source text: %w", err)
	}
	if !utf8.Valid(buf.Bytes()) {
		return "", fmt.Errorf("source text at %s is not valid UTF-8", key)
	}
	return buf.String(), nil
}

// PutText uploads a source text and returns the storage key.
func (l *TextLoader) PutText(ctx context.Context, orgID, sourceID, text string) (string, error) {
	key := fmt.Sprintf("%s/%s.txt", orgID, sourceID)
	_, err := l.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(l.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(text),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload source text to S3: %w", err)
	}
	return key, nil
}

// DeleteText removes a stored source text.
func (l *TextLoader) DeleteText(ctx context.Context, key string) error {
	_, err := l.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete source text from S3: %w", err)
	}
	return nil
}
