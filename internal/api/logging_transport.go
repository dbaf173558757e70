package api

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LoggingTransport wraps an http.RoundTripper and records every remote fetch
// as one JSON line in a dedicated log file. Bodies are never logged; asset
// downloads are binary.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	logger    *log.Logger
	dumpReq   bool
	mu        sync.Mutex
}

// NewLoggingTransport opens logFilePath for appending. With dumpHeaders set,
// outgoing request headers are included in each entry.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string, dumpHeaders bool) (*LoggingTransport, error) {
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open fetch log file %s: %w", logFilePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	logger := log.New()
	logger.SetOutput(f)
	logger.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339})
	logger.SetLevel(log.InfoLevel)

	return &LoggingTransport{
		Transport: transport,
		logFile:   f,
		logger:    logger,
		dumpReq:   dumpHeaders,
	}, nil
}

// RoundTrip executes a single HTTP transaction and logs its outcome.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	fields := log.Fields{
		"method": req.Method,
		"url":    req.URL.Redacted(),
	}
	if t.dumpReq {
		if dump, err := httputil.DumpRequestOut(req, false); err == nil {
			fields["request"] = strings.TrimSpace(string(dump))
		}
	}

	resp, err := t.Transport.RoundTrip(req)
	fields["duration_ms"] = time.Since(start).Milliseconds()

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.logger.WithFields(fields).WithError(err).Error("fetch failed")
		return resp, err
	}

	fields["status"] = resp.StatusCode
	fields["content_type"] = resp.Header.Get("Content-Type")
	fields["content_length"] = resp.ContentLength
	entry := t.logger.WithFields(fields)
	if resp.StatusCode >= 400 {
		entry.Warn("fetch returned error status")
	} else {
		entry.Info("fetch")
	}
	return resp, nil
}

// Close closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.logFile.Close()
}
