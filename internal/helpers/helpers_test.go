package helpers

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lukechampine.com/blake3"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Plain", "photo.jpg", "photo.jpg"},
		{"Upper extension", "Photo.JPG", "Photo.jpg"},
		{"Spaces", "summer  trip.png", "summer-trip.png"},
		{"Accents folded", "café déjà.webp", "cafe-deja.webp"},
		{"Directory stripped", "../../etc/passwd", "passwd"},
		{"Windows separators", "C:\\Users\\me\\cat.gif", "cat.gif"},
		{"Double extension kept", "archive.tar.gz", "archive.tar.gz"},
		{"Nothing usable", "***.png", ""},
		{"Empty", "", ""},
		{"Dot only", "..", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilename(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeHash(t *testing.T) {
	sha := "6b5b16aa54c006d03ff82189ce91a586365a9ad1cb67ca79c4d2c943b483e78a"
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"Prefixed", "sha256:" + sha, "sha256:" + sha, true},
		{"Upper case", "SHA256:" + strings.ToUpper(sha), "sha256:" + sha, true},
		{"Dashed algorithm", "sha-256:" + sha, "sha256:" + sha, true},
		{"Bare sha256", sha, "sha256:" + sha, true},
		{"Bare sha1", "4183088b2fa3c38865bffd3f2622aa2c92dbdf80", "sha1:4183088b2fa3c38865bffd3f2622aa2c92dbdf80", true},
		{"Bare md5", "061839c2957226d1c5b8ccd4668ded1c", "md5:061839c2957226d1c5b8ccd4668ded1c", true},
		{"Blake3 prefixed", "blake3:ABCD", "blake3:abcd", true},
		{"Empty", "  ", "", false},
		{"Unknown length", "abc123", "", false},
		{"Unknown algorithm", "whirlpool:abcd", "", false},
		{"Not hex", "sha256:zz", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeHash(tt.input)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("NormalizeHash(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestBytesToSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes uint64
		want  string
	}{
		{"Zero bytes", 0, "0B"},
		{"Bytes", 500, "500.00B"},
		{"Kilobytes", 1024, "1.00KB"},
		{"Kilobytes fractional", 1536, "1.50KB"},
		{"Megabytes", 1024 * 1024, "1.00MB"},
		{"Gigabytes", 1024 * 1024 * 1024, "1.00GB"},
		{"Terabytes", 1024 * 1024 * 1024 * 1024, "1.00TB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BytesToSize(tt.bytes)
			if got != tt.want {
				t.Errorf("BytesToSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestCheckHash(t *testing.T) {
	tempDir := t.TempDir()

	// echo -n "this is test content for hashing" | sha256sum / sha1sum / md5sum
	testContent := []byte("this is test content for hashing")
	expectedSHA256 := "6b5b16aa54c006d03ff82189ce91a586365a9ad1cb67ca79c4d2c943b483e78a"
	expectedSHA1 := "4183088b2fa3c38865bffd3f2622aa2c92dbdf80"
	expectedMD5 := "061839c2957226d1c5b8ccd4668ded1c"
	expectedCRC32 := "e37f725a"
	b3 := blake3.Sum256(testContent)
	expectedBlake3 := hex.EncodeToString(b3[:])

	testFilePath := filepath.Join(tempDir, "test_hash_file.txt")
	if err := os.WriteFile(testFilePath, testContent, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tests := []struct {
		name     string
		filepath string
		expected string
		wantErr  error
		anyErr   bool
	}{
		{"No file exists", filepath.Join(tempDir, "nonexistent_file.txt"), "sha256:" + expectedSHA256, nil, true},
		{"SHA256 match", testFilePath, "sha256:" + expectedSHA256, nil, false},
		{"SHA256 bare upper case", testFilePath, strings.ToUpper(expectedSHA256), nil, false},
		{"SHA1 match", testFilePath, "sha1:" + expectedSHA1, nil, false},
		{"MD5 match", testFilePath, expectedMD5, nil, false},
		{"CRC32 match", testFilePath, "crc32:" + expectedCRC32, nil, false},
		{"BLAKE3 match", testFilePath, "blake3:" + expectedBlake3, nil, false},
		{"Mismatch", testFilePath, "sha256:" + strings.Repeat("0", 64), ErrHashMismatch, true},
		{"Unsupported", testFilePath, "whirlpool:00", ErrUnsupportedHash, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CheckHash(tt.filepath, tt.expected)
			if tt.anyErr != (err != nil) {
				t.Fatalf("CheckHash(%q, %q) error = %v, want error %v", tt.filepath, tt.expected, err, tt.anyErr)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckHash(%q, %q) error = %v, want %v", tt.filepath, tt.expected, err, tt.wantErr)
			}
		})
	}

	actual, err := HashFile(testFilePath, "sha256")
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if actual != "sha256:"+expectedSHA256 {
		t.Errorf("HashFile = %q", actual)
	}
}

func TestURLHelpers(t *testing.T) {
	host, err := URLHost("https://Media.Example.com:8443/a/b.png")
	if err != nil || host != "media.example.com:8443" {
		t.Errorf("URLHost = %q, %v", host, err)
	}
	if _, err := URLHost("ftp://example.com/x"); err == nil {
		t.Error("URLHost accepted ftp scheme")
	}
	if _, err := URLHost("/relative/path.png"); err == nil {
		t.Error("URLHost accepted a relative url")
	}
	if got := URLBasename("https://example.com/uploads/2024/my%20pic.png?x=1"); got != "my pic.png" {
		t.Errorf("URLBasename = %q", got)
	}
	if got := URLBasename("https://example.com/"); got != "" {
		t.Errorf("URLBasename of root = %q", got)
	}
}

func TestCheckAndMakeDir(t *testing.T) {
	baseTempDir := t.TempDir()

	tests := []struct {
		name       string
		dirToMake  string // Relative to baseTempDir
		wantResult bool
		wantExists bool
	}{
		{"Create simple directory", "new_dir", true, true},
		{"Create nested directory", filepath.Join("nested", "dir", "to", "create"), true, true},
		{"Attempt to create directory that is a file", "existing_file.txt", false, false},
		{"Directory already exists", "already_exists", true, true},
	}

	if err := os.Mkdir(filepath.Join(baseTempDir, "already_exists"), 0755); err != nil {
		t.Fatalf("Failed to pre-create directory: %v", err)
	}
	if f, err := os.Create(filepath.Join(baseTempDir, "existing_file.txt")); err != nil {
		t.Fatalf("Failed to pre-create file: %v", err)
	} else {
		f.Close()
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fullPathToMake := filepath.Join(baseTempDir, tt.dirToMake)
			gotResult := CheckAndMakeDir(fullPathToMake)
			if gotResult != tt.wantResult {
				t.Errorf("CheckAndMakeDir(%q) = %v, want %v", fullPathToMake, gotResult, tt.wantResult)
			}

			info, err := os.Stat(fullPathToMake)
			gotExists := err == nil && info.IsDir()
			if gotExists != tt.wantExists {
				t.Errorf("CheckAndMakeDir(%q) directory exists = %v, want %v", fullPathToMake, gotExists, tt.wantExists)
			}
		})
	}
}
