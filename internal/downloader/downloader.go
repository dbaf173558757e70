package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go-media-reconcile/internal/helpers"

	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrHttpStatus  = errors.New("unexpected HTTP status code")
	ErrFileSystem  = errors.New("filesystem error") // Covers create, remove, rename
	ErrHttpRequest = errors.New("HTTP request creation/execution error")
)

// Downloader fetches remote assets into temporary files.
type Downloader struct {
	client    *http.Client
	userAgent string
}

// Result describes a fetched temporary file. The caller owns Path and must
// move or remove it.
type Result struct {
	Path        string
	Filename    string // From Content-Disposition, if the server sent one
	ContentType string
	Size        uint64
	Hash        string // Verified hash, set when an expected hash was given
}

// NewDownloader creates a new Downloader instance.
func NewDownloader(client *http.Client, userAgent string) *Downloader {
	if client == nil {
		client = &http.Client{
			Timeout: 5 * time.Minute,
		}
	}
	return &Downloader{
		client:    client,
		userAgent: userAgent,
	}
}

// Fetch downloads url into a temporary file under tempDir. When expectedHash
// is set the file is verified before returning; a mismatch removes the file
// and returns an error wrapping helpers.ErrHashMismatch.
func (d *Downloader) Fetch(ctx context.Context, url string, tempDir string, expectedHash string) (Result, error) {
	if !helpers.CheckAndMakeDir(tempDir) {
		return Result{}, fmt.Errorf("%w: failed to create temp directory %s", ErrFileSystem, tempDir)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: creating download request for %s: %w", ErrHttpRequest, url, err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	log.Debugf("Fetching %s", url)
	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: performing request for %s: %w", ErrHttpRequest, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, url)
	}

	result := Result{
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    filenameFromDisposition(resp.Header.Get("Content-Disposition")),
	}
	if mediaType, _, err := mime.ParseMediaType(result.ContentType); err == nil {
		result.ContentType = mediaType
	}

	tempFile, err := os.CreateTemp(tempDir, "fetch-*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("%w: creating temporary file in %s: %w", ErrFileSystem, tempDir, err)
	}
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			log.Debugf("Cleaning up temporary file: %s", tempFile.Name())
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	size, _ := strconv.ParseUint(resp.Header.Get("Content-Length"), 10, 64)
	counter := &helpers.CounterWriter{Writer: tempFile}
	log.Debugf("Downloading %s to %s (Size: %s)", url, tempFile.Name(), helpers.BytesToSize(size))
	if _, err = io.Copy(counter, resp.Body); err != nil {
		_ = tempFile.Close()
		return Result{}, fmt.Errorf("%w: writing temporary file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: closing temp file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	result.Size = counter.Total

	if expectedHash != "" {
		actual, err := helpers.CheckHash(tempFile.Name(), expectedHash)
		if err != nil {
			log.WithFields(log.Fields{"url": url, "expected": expectedHash, "actual": actual}).Warn("Fetched file failed hash verification")
			return Result{}, fmt.Errorf("verifying %s: %w", url, err)
		}
		result.Hash = actual
	}

	shouldCleanupTemp = false
	result.Path = tempFile.Name()
	log.Debugf("Fetched %s (%s)", url, helpers.BytesToSize(result.Size))
	return result, nil
}

func filenameFromDisposition(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		if !strings.HasPrefix(contentDisposition, "inline") {
			log.WithError(err).Debugf("Could not parse Content-Disposition header: %s", contentDisposition)
		}
		return ""
	}
	return params["filename"]
}
