// Package upload publishes the subscription blob to a file-hosting API.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Uploader posts a subscription as a multipart file upload.
type Uploader struct {
	URL    string
	Client *http.Client
	Now    func() time.Time
}

type response struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

// Upload sends content as form field "file" named <timestamp>.txt and
// returns the URL the API reports. A 200 answer counts as success when its
// JSON carries either success=true or a url.
func (u *Uploader) Upload(ctx context.Context, content string) (string, error) {
	now := time.Now
	if u.Now != nil {
		now = u.Now
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", now().Format("20060102150405")+".txt")
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(fw, content); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	client := u.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload: status %d", resp.StatusCode)
	}
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", fmt.Errorf("upload: decode response: %w", err)
	}
	if !r.Success && r.URL == "" {
		return "", fmt.Errorf("upload: api rejected: %s", bytes.TrimSpace(raw))
	}
	return r.URL, nil
}
