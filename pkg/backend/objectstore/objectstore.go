// Package objectstore implements the C6 backend: put/get against an
// S3-compatible bucket using the object id as the key. Grounded on the
// teacher's pkg/serve/registry/s3/s3.go (s3.NewFromConfig, HeadObject, the
// awshttp.ResponseError not-found check) and
// img_tool/cmd/registry/registry.go's awsconfig.LoadOptions wiring
// (endpoint/region/profile flags), extended with static credentials per
// spec.md §6's access-key/secret-key configuration option.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/fusionapp/entropy/pkg/backend"
	"github.com/fusionapp/entropy/pkg/entropyerr"
	"github.com/fusionapp/entropy/pkg/object"
)

// Backend is an S3-compatible, opaque-addressed write/read backend: it
// requires the caller to supply objectId, since bucket keys carry no
// intrinsic content-addressing of their own.
type Backend struct {
	name   string
	bucket string
	client *s3.Client
}

var (
	_ backend.ReadBackend  = (*Backend)(nil)
	_ backend.WriteBackend = (*Backend)(nil)
)

// Options configures one S3-compatible bucket.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string // empty for real AWS S3
	AccessKeyID     string
	SecretAccessKey string
}

// New builds a Backend from Options, following the teacher's
// config.LoadDefaultConfig + functional-options pattern.
func New(ctx context.Context, name string, opts Options) (*Backend, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore backend %s: loading aws config: %w", name, err)
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = &opts.Endpoint
			o.UsePathStyle = true
		}
	})
	return &Backend{name: name, bucket: opts.Bucket, client: client}, nil
}

func (b *Backend) Name() string { return b.name }

// StoreObject puts content at key=objectID. The backend is opaque-addressed
// so opts.ObjectID is required, per spec.md §4.6.
func (b *Backend) StoreObject(ctx context.Context, opts backend.StoreOptions) (string, error) {
	if opts.ObjectID == "" {
		return "", fmt.Errorf("objectstore backend %s: storeObject requires an objectId", b.name)
	}
	if len(opts.Metadata) > 0 {
		return "", &entropyerr.NotImplemented{Reason: "non-empty metadata"}
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = object.DefaultContentType
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &b.bucket,
		Key:         &opts.ObjectID,
		Body:        bytes.NewReader(opts.Content),
		ContentType: &contentType,
	})
	if err != nil {
		return "", mapError(b.name, opts.ObjectID, err)
	}
	return opts.ObjectID, nil
}

// GetObject fetches key=objectID.
func (b *Backend) GetObject(ctx context.Context, objectID string) (object.Object, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: &objectID})
	if err != nil {
		return nil, mapError(b.name, objectID, err)
	}
	defer out.Body.Close()
	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("objectstore backend %s: reading body for %s: %w", b.name, objectID, err)
	}
	contentType := object.DefaultContentType
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	return &object.Memory{ID: objectID, Type: contentType, Contents: content}, nil
}

// mapError translates an aws-sdk-go-v2 error into the entropy taxonomy:
// a 404 response is NonexistentObject, any other service error
// (smithy.APIError) is APIError, and any remaining error (e.g. a transport
// failure) is returned wrapped with the backend name.
func mapError(backendName, objectID string, err error) error {
	var responseErr *awshttp.ResponseError
	if errors.As(err, &responseErr) && responseErr.HTTPStatusCode() == http.StatusNotFound {
		return &entropyerr.NonexistentObject{ObjectID: objectID}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &entropyerr.APIError{Code: 0, Message: apiErr.ErrorMessage(), Reason: apiErr.ErrorCode()}
	}
	return fmt.Errorf("objectstore backend %s: %w", backendName, err)
}
