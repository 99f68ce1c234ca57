package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type SupabaseStorage struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

func NewSupabaseStorage(supabaseURL, serviceKey string) *SupabaseStorage {
	return &SupabaseStorage{
		baseURL:    strings.TrimRight(supabaseURL, "/") + "/storage/v1",
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Put upserts the object so repeated writes to a deterministic key succeed.
func (s *SupabaseStorage) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	url := fmt.Sprintf("%s/object/%s/%s", s.baseURL, bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (s *SupabaseStorage) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	url := fmt.Sprintf("%s/object/%s/%s", s.baseURL, bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		// Supabase reports missing objects as 400 with a not_found error body.
		if resp.StatusCode == http.StatusNotFound || bytes.Contains(body, []byte("not_found")) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("download failed (%d): %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}
