// Package publish uploads translated decks to S3 after they are packed.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"codeberg.org/snonux/decktranslate/internal/logger"
)

const (
	DefaultAttempts = 3
	DefaultTimeout  = 30 * time.Second

	maxBackoff = 2 * time.Second
)

// ErrNoBucket is returned when publishing is configured without a bucket
var ErrNoBucket = errors.New("no S3 bucket configured")

// Options configures an S3Publisher
type Options struct {
	Bucket   string
	Prefix   string
	Region   string        // empty uses the AWS default chain
	Attempts int           // PutObject attempts per deck
	Timeout  time.Duration // per attempt
}

// PutObjectAPI is the part of the S3 client the publisher uses
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads packed decks with PutObject
type S3Publisher struct {
	client  PutObjectAPI
	opts    Options
	backoff time.Duration
}

// NewS3Publisher loads the AWS configuration and creates an S3 client.
// Retries are done by the publisher, not the SDK.
func NewS3Publisher(ctx context.Context, opts Options) (*S3Publisher, error) {
	if opts.Bucket == "" {
		return nil, ErrNoBucket
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 1
	})
	return NewS3PublisherWithClient(client, opts)
}

// NewS3PublisherWithClient creates a publisher around an existing client
func NewS3PublisherWithClient(client PutObjectAPI, opts Options) (*S3Publisher, error) {
	if opts.Bucket == "" {
		return nil, ErrNoBucket
	}
	if opts.Attempts < 1 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &S3Publisher{
		client:  client,
		opts:    opts,
		backoff: 200 * time.Millisecond,
	}, nil
}

// Key returns the object key of a deck: the prefix joined with its base name
func (p *S3Publisher) Key(deckPath string) string {
	name := filepath.Base(deckPath)
	prefix := strings.Trim(p.opts.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Publish uploads the deck and returns its s3:// location
func (p *S3Publisher) Publish(ctx context.Context, deckPath string) (string, error) {
	f, err := os.Open(deckPath)
	if err != nil {
		return "", fmt.Errorf("failed to open deck: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat deck: %w", err)
	}

	key := p.Key(deckPath)
	l := logger.WithComponent("publish")
	backoff := p.backoff
	var lastErr error

	for attempt := 1; attempt <= p.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return "", fmt.Errorf("failed to rewind deck: %w", err)
		}

		lastErr = p.put(ctx, key, f, info.Size())
		if lastErr == nil {
			location := fmt.Sprintf("s3://%s/%s", p.opts.Bucket, key)
			l.Info().Str("location", location).Int64("bytes", info.Size()).Msg("Deck published")
			return location, nil
		}
		l.Warn().Err(lastErr).Str("key", key).Int("attempt", attempt).Msg("Upload failed")

		if attempt == p.opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		}
	}

	return "", fmt.Errorf("failed to upload %s after %d attempts: %w", key, p.opts.Attempts, lastErr)
}

func (p *S3Publisher) put(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.opts.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/octet-stream"),
	})
	return err
}
