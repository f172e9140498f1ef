package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog.evalgo.org/internal/model"
)

// TestValidateNormalizesProfile verifies kind and property normalization.
func TestValidateNormalizesProfile(t *testing.T) {
	mock := NewMockS3Client()
	mock.Buckets["data"] = true
	v := NewS3ValidatorWithClient(mock)

	normalized, err := v.Validate(context.Background(), model.StorageProfile{
		Kind: "S3",
		Properties: map[string]string{
			"Bucket":     "data",
			"Key-Prefix": "/warehouse/analytics/",
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "s3", normalized.Kind)
	assert.Equal(t, "data", normalized.Properties[PropBucket])
	assert.Equal(t, "warehouse/analytics", normalized.Properties[PropKeyPrefix])
	assert.Equal(t, "us-east-1", normalized.Properties[PropRegion], "region defaults")
	assert.True(t, mock.HeadBucketCalled)
	assert.Equal(t, "data", mock.LastBucket)
}

// TestValidateRejectsUnreachableBucket verifies the access probe failure
// path.
func TestValidateRejectsUnreachableBucket(t *testing.T) {
	mock := NewMockS3Client() // no buckets registered
	v := NewS3ValidatorWithClient(mock)

	_, err := v.Validate(context.Background(), model.StorageProfile{
		Kind:       "s3",
		Properties: map[string]string{"bucket": "missing"},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

// TestValidateRejectsBadProfiles verifies structural validation before any
// network access.
func TestValidateRejectsBadProfiles(t *testing.T) {
	mock := NewMockS3Client()
	v := NewS3ValidatorWithClient(mock)
	ctx := context.Background()

	_, err := v.Validate(ctx, model.StorageProfile{Kind: "gcs", Properties: map[string]string{"bucket": "x"}}, nil)
	require.Error(t, err)
	assert.False(t, mock.HeadBucketCalled)

	_, err = v.Validate(ctx, model.StorageProfile{Kind: "s3"}, nil)
	require.Error(t, err)
	assert.False(t, mock.HeadBucketCalled)
}

// TestValidateParsesCredentials verifies the secret blob decoding.
func TestValidateParsesCredentials(t *testing.T) {
	mock := NewMockS3Client()
	mock.Buckets["data"] = true
	v := NewS3ValidatorWithClient(mock)
	ctx := context.Background()

	_, err := v.Validate(ctx, model.StorageProfile{
		Kind:       "s3",
		Properties: map[string]string{"bucket": "data"},
	}, []byte(`{"access-key":"AK","secret-key":"SK"}`))
	require.NoError(t, err)

	_, err = v.Validate(ctx, model.StorageProfile{
		Kind:       "s3",
		Properties: map[string]string{"bucket": "data"},
	}, []byte(`not-json`))
	require.Error(t, err)
}
