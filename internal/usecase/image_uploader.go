package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"

	"lovelink/internal/domain/entity"
	"lovelink/pkg/errors"
)

const uploadResponseLimit = 1 << 20

// ImageUploader sends chat images to the upload endpoint, outside the document store,
// and returns the server-relative path to embed in a message.
type ImageUploader struct {
	endpoint    string
	credentials CredentialStore
	httpClient  HTTPDoer
}

func NewImageUploader(endpoint string, credentials CredentialStore, httpClient HTTPDoer) *ImageUploader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ImageUploader{
		endpoint:    endpoint,
		credentials: credentials,
		httpClient:  httpClient,
	}
}

// UploadMessageImage fails with UNAUTHORIZED before any request when no credential is
// stored, and with UPLOAD_FAILED when the endpoint does not answer success with a path.
func (u *ImageUploader) UploadMessageImage(ctx context.Context, filename string, file io.Reader) (string, error) {
	token, err := u.credentials.Token(ctx)
	if err != nil {
		return "", errors.Unauthorized("Failed to read stored credential", err)
	}
	if token == "" {
		return "", errors.Unauthorized("No credential available for image upload", nil)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(filename)))
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return "", errors.Internal("Failed to build upload form", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", errors.Internal("Failed to read image", err)
	}
	if err := writer.Close(); err != nil {
		return "", errors.Internal("Failed to build upload form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, body)
	if err != nil {
		return "", errors.Internal("Failed to build upload request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", errors.Internal("Image upload request failed", err)
	}
	defer resp.Body.Close()

	var result entity.UploadResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, uploadResponseLimit)).Decode(&result); err != nil {
		return "", errors.UploadFailed(fmt.Sprintf("Unreadable upload response (HTTP %d)", resp.StatusCode), err)
	}

	if result.Status != entity.UploadStatusSuccess || result.ImgPath == "" {
		return "", errors.UploadFailed(result.Message, nil)
	}

	return result.ImgPath, nil
}
