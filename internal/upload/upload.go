// Package upload mirrors a published artifact blob to a remote location by
// HTTP PUT, typically a pre-signed object-storage URL.
package upload

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/cleanstep/internal/ctxlog"
	"github.com/vk/cleanstep/internal/steperr"
)

// Client uploads files.
type Client struct {
	http *http.Client
}

// New creates a Client. A zero timeout means no timeout.
func New(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Put uploads the file at path to url.
func (c *Client) Put(ctx context.Context, path, url string) error {
	logger := ctxlog.FromContext(ctx).With("action", "upload")

	file, err := os.Open(path)
	if err != nil {
		return steperr.New(steperr.KindIO, "upload", fmt.Sprintf("failed to open source file %s", path), err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return steperr.New(steperr.KindIO, "upload", fmt.Sprintf("failed to get file stats for %s", path), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, file)
	if err != nil {
		return steperr.New(steperr.KindRegistration, "upload", "failed to create upload request", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = stat.Size()

	logger.Info("Uploading artifact blob", "source", path, "size", stat.Size(), "contentType", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return steperr.New(steperr.KindRegistration, "upload", "failed to execute upload request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return steperr.Newf(steperr.KindRegistration, "upload", "upload failed with status: %s", resp.Status)
	}

	logger.Info("Successfully uploaded artifact blob", "status", resp.Status)
	return nil
}
