package store

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client builds an S3 client against the account's R2 endpoint.
func NewS3Client(ctx context.Context, accountID, accessKeyID, secretAccessKey string) (*s3.Client, error) {
	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithEndpointResolverWithOptions(r2Resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// S3BlobStore stores attachment payloads in an S3-compatible bucket (R2 in
// the hosted deployment) and derives public URLs from the bucket's public
// base.
type S3BlobStore struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

func NewS3BlobStore(client *s3.Client, bucket, baseURL string) *S3BlobStore {
	return &S3BlobStore{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload puts the blob under key and returns its public URL. Keys are
// confined to the bucket root.
func (s *S3BlobStore) Upload(ctx context.Context, blobPath, contentType string, r io.Reader) (string, error) {
	clean := path.Clean(blobPath)
	if clean == "." || strings.HasPrefix(clean, "..") || strings.HasPrefix(clean, "/") {
		return "", fmt.Errorf("invalid blob path %q", blobPath)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(clean),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading blob: %w", err)
	}

	return s.baseURL + "/" + clean, nil
}
