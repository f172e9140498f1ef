package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"catalog.evalgo.org/common"
	"catalog.evalgo.org/internal/catalogerr"
	"catalog.evalgo.org/internal/model"
)

// sharedHTTPClient is reused across validation clients to avoid connection
// churn when many profiles are validated in sequence.
var sharedHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// Profile property keys understood by the S3 validator.
const (
	PropBucket       = "bucket"
	PropRegion       = "region"
	PropEndpoint     = "endpoint"
	PropKeyPrefix    = "key-prefix"
	PropPathStyle    = "path-style-access"
	defaultRegion    = "us-east-1"
	profileKindS3    = "s3"
)

// s3Credentials is the shape of the opaque secret blob for S3 profiles.
type s3Credentials struct {
	AccessKey string `json:"access-key"`
	SecretKey string `json:"secret-key"`
}

// S3Validator normalizes and validates S3-family storage profiles. It
// checks reachability with a HeadBucket probe before any profile is
// committed to a warehouse.
type S3Validator struct {
	// newClient builds the S3 client for one validation; tests inject a
	// mock here.
	newClient func(ctx context.Context, profile model.StorageProfile, creds *s3Credentials) (S3Client, error)
}

// NewS3Validator builds the production validator backed by the AWS SDK.
func NewS3Validator() *S3Validator {
	return &S3Validator{newClient: buildS3Client}
}

// NewS3ValidatorWithClient injects a fixed client, for tests.
func NewS3ValidatorWithClient(client S3Client) *S3Validator {
	return &S3Validator{
		newClient: func(ctx context.Context, profile model.StorageProfile, creds *s3Credentials) (S3Client, error) {
			return client, nil
		},
	}
}

// Validate normalizes the profile and proves the described bucket is
// reachable with the supplied credentials. The returned profile is the
// canonical form that gets persisted.
func (v *S3Validator) Validate(ctx context.Context, profile model.StorageProfile, credentialBlob []byte) (model.StorageProfile, error) {
	normalized, err := normalizeProfile(profile)
	if err != nil {
		return model.StorageProfile{}, err
	}

	var creds *s3Credentials
	if credentialBlob != nil {
		var parsed s3Credentials
		if err := json.Unmarshal(credentialBlob, &parsed); err != nil {
			return model.StorageProfile{}, fmt.Errorf("failed to decode storage credentials: %w", err)
		}
		creds = &parsed
		common.Logger.WithFields(logrus.Fields{
			"bucket":     normalized.Properties[PropBucket],
			"access_key": common.MaskSecret(parsed.AccessKey),
		}).Debug("validating storage profile with static credentials")
	}

	client, err := v.newClient(ctx, normalized, creds)
	if err != nil {
		return model.StorageProfile{}, err
	}
	bucket := normalized.Properties[PropBucket]
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return model.StorageProfile{}, fmt.Errorf("storage profile validation failed for bucket %q: %w", bucket, err)
	}
	return normalized, nil
}

// normalizeProfile canonicalizes kind and properties: lower-cased kind,
// defaulted region, trimmed key prefix, required bucket.
func normalizeProfile(profile model.StorageProfile) (model.StorageProfile, error) {
	kind := strings.ToLower(profile.Kind)
	if kind != profileKindS3 {
		return model.StorageProfile{}, fmt.Errorf("%w: unsupported storage kind %q", catalogerr.ErrInvalidTemplate, profile.Kind)
	}
	props := make(map[string]string, len(profile.Properties))
	for k, v := range profile.Properties {
		props[strings.ToLower(k)] = v
	}
	if props[PropBucket] == "" {
		return model.StorageProfile{}, fmt.Errorf("%w: storage profile needs a bucket", catalogerr.ErrInvalidTemplate)
	}
	if props[PropRegion] == "" {
		props[PropRegion] = defaultRegion
	}
	if prefix, ok := props[PropKeyPrefix]; ok {
		props[PropKeyPrefix] = strings.Trim(prefix, "/")
	}
	return model.StorageProfile{Kind: kind, Properties: props}, nil
}

// buildS3Client assembles the SDK client for one profile. Custom endpoints
// (MinIO, LakeFS, on-prem gateways) use an immutable-hostname resolver and
// path-style addressing.
func buildS3Client(ctx context.Context, profile model.StorageProfile, creds *s3Credentials) (S3Client, error) {
	region := profile.Properties[PropRegion]
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if creds != nil {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, "")))
	}
	if endpoint := profile.Properties[PropEndpoint]; endpoint != "" {
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               endpoint,
					SigningRegion:     region,
					HostnameImmutable: true,
				}, nil
			})))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = profile.Properties[PropPathStyle] == "true" || profile.Properties[PropEndpoint] != ""
		o.HTTPClient = sharedHTTPClient
	})
	return client, nil
}
