package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/net/http/httpproxy"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

// S3Config holds S3 client configuration.
type S3Config struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint for S3-compatible stores. A value
	// without a scheme gets https:// or http:// depending on UseSSL.
	Endpoint       string
	UseSSL         bool
	ForcePathStyle bool

	// Static credentials; when empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// ProxyURI routes all store traffic through an HTTP proxy.
	ProxyURI string
	// Timeout bounds each request; 0 means no client-side timeout.
	Timeout time.Duration
}

// S3Store is a BucketStore backed by the AWS SDK v2 S3 client.
type S3Store struct {
	client *s3.Client
	bucket string
	region string
}

// NewS3Store creates an S3 store. No request is made until the first call.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	httpClient := awshttp.NewBuildableClient()
	if cfg.Timeout > 0 {
		httpClient = httpClient.WithTimeout(cfg.Timeout)
	}
	if cfg.ProxyURI != "" {
		proxy, err := proxyFunc(cfg.ProxyURI)
		if err != nil {
			return nil, err
		}
		httpClient = httpClient.WithTransportOptions(func(tr *http.Transport) {
			tr.Proxy = proxy
		})
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	endpoint := endpointURL(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
			// Most S3-compatible stores reject the SDK's default trailing checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		} else if !cfg.UseSSL {
			o.EndpointOptions.DisableHTTPS = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

func endpointURL(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func proxyFunc(uri string) (func(*http.Request) (*url.URL, error), error) {
	if _, err := url.Parse(uri); err != nil {
		return nil, fmt.Errorf("invalid proxy uri %q: %w", uri, err)
	}
	pc := &httpproxy.Config{HTTPProxy: uri, HTTPSProxy: uri}
	fn := pc.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return fn(req.URL)
	}, nil
}

// Bucket returns the bucket name.
func (s *S3Store) Bucket() string { return s.bucket }

// Exists reports whether key is present.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		observe("head_object", "found", start)
		return true, nil
	}
	se := classify("head_object", key, err)
	if se.Type == ErrorTypeNotFound {
		observe("head_object", "missing", start)
		return false, nil
	}
	observe("head_object", string(se.Type), start)
	return false, se
}

// Write uploads obj unconditionally.
func (s *S3Store) Write(ctx context.Context, obj Object) error {
	return s.put(ctx, "put_object", obj, false)
}

// WriteIfAbsent uploads obj only if its key is free (If-None-Match: *).
func (s *S3Store) WriteIfAbsent(ctx context.Context, obj Object) error {
	return s.put(ctx, "put_object_if_absent", obj, true)
}

func (s *S3Store) put(ctx context.Context, op string, obj Object, ifAbsent bool) error {
	start := time.Now()
	if _, err := obj.Body.Seek(0, io.SeekStart); err != nil {
		return &StoreError{Op: op, Key: obj.Key, Type: ErrorTypeRejected, Err: fmt.Errorf("rewind body: %w", err)}
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(obj.Key),
		Body:          obj.Body,
		ContentLength: aws.Int64(obj.Size),
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	if obj.StorageClass != "" {
		input.StorageClass = types.StorageClass(obj.StorageClass)
	}
	if ifAbsent {
		input.IfNoneMatch = aws.String("*")
	}

	_, err := s.client.PutObject(ctx, input)
	if err == nil {
		observe(op, "ok", start)
		uploadedBytes.Add(float64(obj.Size))
		return nil
	}
	se := classify(op, obj.Key, err)
	observe(op, string(se.Type), start)
	if ifAbsent && se.Type == ErrorTypeConflict {
		se.Err = fmt.Errorf("%w: %v", ErrKeyExists, err)
	}
	return se
}

// BucketExists reports whether the configured bucket exists.
func (s *S3Store) BucketExists(ctx context.Context) (bool, error) {
	start := time.Now()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		observe("head_bucket", "found", start)
		return true, nil
	}
	se := classify("head_bucket", s.bucket, err)
	observe("head_bucket", string(se.Type), start)
	if se.Type == ErrorTypeNotFound {
		return false, nil
	}
	return false, se
}

// CreateBucket creates the configured bucket. A bucket already owned by the
// caller counts as success.
func (s *S3Store) CreateBucket(ctx context.Context) error {
	start := time.Now()
	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if s.region != DefaultRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	_, err := s.client.CreateBucket(ctx, input)
	var owned *types.BucketAlreadyOwnedByYou
	if err == nil || errors.As(err, &owned) {
		observe("create_bucket", "ok", start)
		return nil
	}
	se := classify("create_bucket", s.bucket, err)
	observe("create_bucket", string(se.Type), start)
	return se
}

// CheckCredentials lists at most one object of the bucket, which fails
// when the credentials cannot read it.
func (s *S3Store) CheckCredentials(ctx context.Context) error {
	start := time.Now()
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	})
	if err == nil {
		observe("list_objects", "ok", start)
		return nil
	}
	se := classify("list_objects", s.bucket, err)
	observe("list_objects", string(se.Type), start)
	return se
}
