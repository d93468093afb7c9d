// Package storage wraps the S3-compatible object store (MinIO in most
// deployments) holding source videos, audio chunks, logos and results.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	PublicURL string
}

type Verb string

const (
	VerbGet Verb = "GET"
	VerbPut Verb = "PUT"
)

// DeleteOutcome classifies a single object deletion.
type DeleteOutcome int

const (
	Deleted DeleteOutcome = iota
	NotFound
	Failed
)

func (o DeleteOutcome) String() string {
	switch o {
	case Deleted:
		return "deleted"
	case NotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// ErrObjectNotFound is returned by GetStream for an absent key.
var ErrObjectNotFound = errors.New("object not found")

// Object is an open object body. The caller must Close it.
type Object struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

func (o *Object) Close() error { return o.Body.Close() }

type DeleteResult struct {
	Key     string
	Outcome DeleteOutcome
	Err     error
}

// s3API is the subset of *s3.Client used here.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Client struct {
	s3        s3API
	presigner presignAPI
	bucket    string
	endpoint  string
	publicURL string
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Client{
		s3:        client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func (c *Client) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int("bytes", len(body)).Msg("Uploaded object")
	return nil
}

// GetStream opens key for reading without buffering it in memory.
func (c *Client) GetStream(ctx context.Context, key string) (*Object, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("S3 GetObject %s: %w", key, err)
	}

	obj := &Object{
		Body:          out.Body,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
	}
	if obj.ContentType == "" {
		obj.ContentType = ContentTypeFor(key)
	}
	return obj, nil
}

// Delete removes key. S3 deletes are silent for absent keys, so a HEAD
// precedes the delete to report NotFound explicitly.
func (c *Client) Delete(ctx context.Context, key string) DeleteResult {
	if key == "" {
		return DeleteResult{Key: key, Outcome: NotFound}
	}

	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return DeleteResult{Key: key, Outcome: NotFound}
		}
		return DeleteResult{Key: key, Outcome: Failed, Err: fmt.Errorf("S3 HeadObject %s: %w", key, err)}
	}

	_, err = c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return DeleteResult{Key: key, Outcome: NotFound}
		}
		return DeleteResult{Key: key, Outcome: Failed, Err: fmt.Errorf("S3 DeleteObject %s: %w", key, err)}
	}
	return DeleteResult{Key: key, Outcome: Deleted}
}

// Presign returns a time-limited URL for verb on key. filename, when set on
// a GET, becomes the attachment name offered to the browser.
func (c *Client) Presign(ctx context.Context, verb Verb, key string, ttl time.Duration, filename string) (string, error) {
	expires := func(o *s3.PresignOptions) { o.Expires = ttl }

	var req *v4.PresignedHTTPRequest
	var err error
	switch verb {
	case VerbGet:
		in := &s3.GetObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)}
		if filename != "" {
			in.ResponseContentDisposition = aws.String(fmt.Sprintf(`attachment; filename="%s"`, filename))
		}
		req, err = c.presigner.PresignGetObject(ctx, in, expires)
	case VerbPut:
		req, err = c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)}, expires)
	default:
		return "", fmt.Errorf("unsupported presign verb %q", verb)
	}
	if err != nil {
		return "", fmt.Errorf("presign %s %s: %w", verb, key, err)
	}
	return c.rewritePublic(req.URL), nil
}

// rewritePublic swaps the internal endpoint/bucket prefix for the public URL.
func (c *Client) rewritePublic(url string) string {
	if c.publicURL == "" || c.endpoint == "" {
		return url
	}
	internal := c.endpoint + "/" + c.bucket
	if strings.HasPrefix(url, internal) {
		return c.publicURL + strings.TrimPrefix(url, internal)
	}
	return url
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
