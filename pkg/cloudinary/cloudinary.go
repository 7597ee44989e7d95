package cloudinary

import (
	"context"
	"io"

	"storagedesk/internal/apperr"

	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/cloudinary/cloudinary-go/v2/config"
)

// Client stores signed lease documents.
type Client interface {
	UploadDocument(ctx context.Context, file io.Reader, folder, publicID string) (url string, err error)
}

type clientImpl struct {
	uploader *uploader.API
}

var overwrite = true

// UploadDocument uploads a PDF or scan as a raw asset and returns its HTTPS URL.
// Re-uploading the same public id replaces the previous version.
func (c *clientImpl) UploadDocument(ctx context.Context, file io.Reader, folder, publicID string) (string, error) {
	result, err := c.uploader.Upload(ctx, file, uploader.UploadParams{
		Folder:       folder,
		PublicID:     publicID,
		ResourceType: "raw",
		Overwrite:    &overwrite,
	})
	if err != nil {
		return "", apperr.GatewayError.New("cloudinary upload: %v", err)
	}
	if result.Error.Message != "" {
		return "", apperr.GatewayError.New("cloudinary upload: %s", result.Error.Message)
	}
	return result.SecureURL, nil
}

// NewClientFromParams builds a Client from Cloudinary cloud name, API key, and secret.
func NewClientFromParams(cloudName, apiKey, apiSecret string) (Client, error) {
	cfg, err := config.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, apperr.ConfigError.Wrap(err)
	}
	up, err := uploader.NewWithConfiguration(cfg)
	if err != nil {
		return nil, apperr.ConfigError.Wrap(err)
	}
	return &clientImpl{uploader: up}, nil
}
