// Package media turns stored listing image references into URLs a messaging
// provider can fetch.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultPresignTTL = 24 * time.Hour

// ErrUnresolvable indicates that an object key cannot be turned into a URL with the
// current configuration.
var ErrUnresolvable = errors.New("media: no bucket or public base url configured")

// Presigner is the subset of the S3 presign client used here.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config describes an S3-compatible bucket (AWS S3 or Cloudflare R2).
type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Presigner builds a presign client with static credentials.
func NewS3Presigner(ctx context.Context, cfg S3Config) (*s3.PresignClient, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "auto"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("media: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		options.UsePathStyle = cfg.UsePathStyle
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			options.BaseEndpoint = aws.String(endpoint)
		}
	})
	return s3.NewPresignClient(client), nil
}

// Config wires a Resolver. Either Presigner with Bucket, or PublicBaseURL, enables
// object keys; absolute URLs always pass through.
type Config struct {
	Presigner     Presigner
	Bucket        string
	PublicBaseURL string
	TTL           time.Duration
}

// Resolver maps image references to fetchable URLs.
type Resolver struct {
	presigner     Presigner
	bucket        string
	publicBaseURL string
	ttl           time.Duration
}

// NewResolver applies defaults.
func NewResolver(cfg Config) *Resolver {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &Resolver{
		presigner:     cfg.Presigner,
		bucket:        strings.TrimSpace(cfg.Bucket),
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		ttl:           ttl,
	}
}

// Resolve returns an absolute URL for the reference. Empty references resolve to "".
func (r *Resolver) Resolve(ctx context.Context, reference string) (string, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", nil
	}
	if IsAbsoluteURL(reference) {
		return reference, nil
	}

	key := strings.TrimLeft(reference, "/")
	if r.presigner != nil && r.bucket != "" {
		request, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(r.ttl))
		if err != nil {
			return "", fmt.Errorf("media: presign %s: %w", key, err)
		}
		return request.URL, nil
	}
	if r.publicBaseURL != "" {
		return r.publicBaseURL + "/" + (&url.URL{Path: key}).EscapedPath(), nil
	}
	return "", ErrUnresolvable
}

// IsAbsoluteURL reports whether value is an http(s) URL with a host.
func IsAbsoluteURL(value string) bool {
	parsed, err := url.Parse(value)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
