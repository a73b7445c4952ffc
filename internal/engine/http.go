package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// PatchManifest lists the pages changed by a content version bump
type PatchManifest struct {
	Version int         `json:"version"`
	Pages   []PatchPage `json:"pages"`
}

// PatchPage is one changed page with its expected checksum
type PatchPage struct {
	Page   int    `json:"page"`
	SHA256 string `json:"sha256"`
}

// newRequest creates an HTTP request with configured headers
func (e *Engine) newRequest(ctx context.Context, method, urlStr string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "*/*")
	return req, nil
}

// fetchPage downloads a single page image to destPath. One attempt, no
// retries: any failure is reported back as a page failure. The image is
// written to a temp file and renamed so a partial fetch never looks like
// a present page to later existence checks.
func (e *Engine) fetchPage(ctx context.Context, urlStr, destPath string) (int64, error) {
	req, err := e.newRequest(ctx, http.MethodGet, urlStr)
	if err != nil {
		return 0, err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, friendlyHTTPError(resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".page-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	bufPtr := e.bufferPool.Get().(*[]byte)
	defer e.bufferPool.Put(bufPtr)
	buf := *bufPtr

	var written int64
	for {
		if err := e.bandwidth.Wait(ctx, len(buf)); err != nil {
			tmp.Close()
			return written, err
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := tmp.Write(buf[:n]); writeErr != nil {
				tmp.Close()
				return written, writeErr
			}
			written += int64(n)
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			tmp.Close()
			return written, readErr
		}
	}

	if err := tmp.Close(); err != nil {
		return written, err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return written, fmt.Errorf("failed to move page into place: %w", err)
	}
	return written, nil
}

// fetchPatchManifest downloads and decodes a patch manifest
func (e *Engine) fetchPatchManifest(ctx context.Context, urlStr string) (*PatchManifest, error) {
	req, err := e.newRequest(ctx, http.MethodGet, urlStr)
	if err != nil {
		return nil, err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, friendlyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, friendlyHTTPError(resp.StatusCode)
	}

	var manifest PatchManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to parse patch manifest: %w", err)
	}
	return &manifest, nil
}

// friendlyError converts technical errors to user-facing messages
func friendlyError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host"):
		return fmt.Errorf("asset host not found, check the base URL")
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("asset host is offline or unreachable")
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("connection timed out, try again later")
	case strings.Contains(msg, "network is unreachable"):
		return fmt.Errorf("no internet connection")
	default:
		return err
	}
}

// friendlyHTTPError converts HTTP status codes to user-facing messages
func friendlyHTTPError(status int) error {
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("page not found on server (404)")
	case http.StatusForbidden:
		return fmt.Errorf("access denied by server (403)")
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("server error, try again later (%d)", status)
	case http.StatusTooManyRequests:
		return fmt.Errorf("too many requests, wait and try again")
	default:
		return fmt.Errorf("server returned error %d", status)
	}
}
