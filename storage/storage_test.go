package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitS3Path(t *testing.T) {
	tests := []struct {
		in          string
		bucket, key string
		ok          bool
	}{
		{"s3://filterd/scripts/spam.sieve", "filterd", "scripts/spam.sieve", true},
		{"s3://bucket/key", "bucket", "key", true},
		{"/etc/filterd/spam.sieve", "", "", false},
		{"s3://bucketonly", "", "", false},
		{"s3:///key", "", "", false},
	}

	for _, tc := range tests {
		bucket, key, ok := splitS3Path(tc.in)
		if ok != tc.ok || bucket != tc.bucket || key != tc.key {
			t.Errorf("splitS3Path(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, bucket, key, ok, tc.bucket, tc.key, tc.ok)
		}
	}
}

func TestReadLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sieve")
	script := `keep;`
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		t.Fatal(err)
	}

	src, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, err := src.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != script {
		t.Errorf("got %q, want %q", data, script)
	}
}

func TestReadMalformedS3Path(t *testing.T) {
	src, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, path := range []string{"s3://bucketonly", "s3:///key", "s3://"} {
		_, err := src.Read(context.Background(), path)
		if err == nil || !strings.Contains(err.Error(), "malformed") {
			t.Errorf("Read(%q) = %v, want malformed path error", path, err)
		}
	}
}

func TestReadS3WithoutConfig(t *testing.T) {
	src, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := src.Read(context.Background(), "s3://filterd/scripts/spam.sieve"); err == nil {
		t.Fatal("expected error when s3 path is used without [s3]")
	}
}
