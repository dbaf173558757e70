package helpers

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"net/url"
	"os"
	"path"
	"strings"
	"unicode"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"lukechampine.com/blake3"
)

var (
	ErrHashMismatch    = errors.New("content hash mismatch")
	ErrUnsupportedHash = errors.New("unsupported hash algorithm")
)

// DefaultHashAlgorithm is used when stamping new local records.
const DefaultHashAlgorithm = "sha256"

func newHasher(algo string) (hash.Hash, error) {
	switch algo {
	case "sha256":
		return sha256.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "md5":
		return md5.New(), nil
	case "blake3":
		return blake3.New(32, nil), nil
	case "crc32":
		return crc32.NewIEEE(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedHash, algo)
}

// NormalizeHash canonicalizes a hash to "algorithm:hexdigest" in lower case.
// A bare digest gets its algorithm from the digest length. It returns false
// for empty or unrecognizable input.
func NormalizeHash(raw string) (string, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", false
	}
	algo, digest, found := strings.Cut(raw, ":")
	if !found {
		digest = algo
		switch len(digest) {
		case 64:
			algo = "sha256"
		case 40:
			algo = "sha1"
		case 32:
			algo = "md5"
		case 8:
			algo = "crc32"
		default:
			return "", false
		}
	}
	algo = strings.ReplaceAll(algo, "-", "")
	if _, err := newHasher(algo); err != nil {
		return "", false
	}
	if _, err := hex.DecodeString(digest); err != nil || digest == "" {
		return "", false
	}
	return algo + ":" + digest, true
}

// HashFile streams the file through the named algorithm and returns
// "algorithm:hexdigest".
func HashFile(filepath string, algo string) (string, error) {
	hasher, err := newHasher(algo)
	if err != nil {
		return "", err
	}
	f, err := os.Open(filepath)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", filepath, err)
	}
	defer f.Close()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", filepath, err)
	}
	return algo + ":" + hex.EncodeToString(hasher.Sum(nil)), nil
}

// CheckHash verifies a file against an expected "algorithm:hexdigest" hash.
// It returns the computed hash alongside the result so callers can log both.
// A mismatch is reported as ErrHashMismatch.
func CheckHash(filepath string, expected string) (string, error) {
	normalized, ok := NormalizeHash(expected)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedHash, expected)
	}
	algo, _, _ := strings.Cut(normalized, ":")
	actual, err := HashFile(filepath, algo)
	if err != nil {
		return "", err
	}
	if actual != normalized {
		log.WithFields(log.Fields{"path": filepath, "expected": normalized, "actual": actual}).Debug("Hash mismatch")
		return actual, ErrHashMismatch
	}
	log.WithField("hash", algo).Debugf("Hash match for %s", filepath)
	return actual, nil
}

// CounterWriter tracks the number of bytes written to the underlying writer.
type CounterWriter struct {
	Total  uint64
	Writer io.Writer
}

// Write implements the io.Writer interface for CounterWriter.
func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	return n, err
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// SanitizeFilename strips directories and accents from a filename and keeps
// only characters safe on every filesystem. The extension is lower-cased.
// It returns "" when nothing usable remains.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, name); err == nil {
		name = folded
	}

	ext := strings.ToLower(path.Ext(name))
	base := strings.TrimSuffix(name, path.Ext(name))

	var b strings.Builder
	for _, r := range base {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('-')
		}
	}
	base = strings.Trim(b.String(), ".-_")
	for strings.Contains(base, "--") {
		base = strings.ReplaceAll(base, "--", "-")
	}

	cleanExt := strings.Map(func(r rune) rune {
		if r == '.' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
			return r
		}
		return -1
	}, ext)
	if cleanExt == "." {
		cleanExt = ""
	}

	if base == "" {
		return ""
	}
	return base + cleanExt
}

// URLBasename returns the last path element of a URL, unescaped.
func URLBasename(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Path == "" {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// URLHost returns the lower-cased host[:port] of an http(s) URL.
func URLHost(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}
	return strings.ToLower(u.Host), nil
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
// Uses standard directory permissions (0700).
func CheckAndMakeDir(dir string) bool {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}
