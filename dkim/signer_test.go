package dkim

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/migadu/filterd/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestKey(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	require.NoError(t, os.WriteFile(path, pemBytes, 0600))
	return path
}

func TestNewSigner(t *testing.T) {
	path := writeTestKey(t)

	signer, err := NewSigner("default", config.SignerConfig{
		Domain:   "example.com",
		Selector: "s1",
		KeyFile:  path,
	})
	require.NoError(t, err)
	assert.Equal(t, "example.com", signer.Domain)
	assert.Equal(t, "s1", signer.Selector)
	assert.Equal(t, DefaultSignedHeaders, signer.headers)
}

func TestNewSignerValidation(t *testing.T) {
	path := writeTestKey(t)

	tests := []struct {
		name    string
		cfg     config.SignerConfig
		wantErr string
	}{
		{"missing domain", config.SignerConfig{Selector: "s1", KeyFile: path}, "missing domain"},
		{"missing selector", config.SignerConfig{Domain: "example.com", KeyFile: path}, "missing selector"},
		{"missing key", config.SignerConfig{Domain: "example.com", Selector: "s1"}, "missing key_file"},
		{"bad canonicalization", config.SignerConfig{Domain: "example.com", Selector: "s1", KeyFile: path, Canonicalization: "chaotic"}, "canonicalization"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSigner("bad", tc.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSign(t *testing.T) {
	path := writeTestKey(t)

	signer, err := NewSigner("default", config.SignerConfig{
		Domain:   "example.com",
		Selector: "s1",
		KeyFile:  path,
	})
	require.NoError(t, err)

	message := "From: Mailer Daemon <MAILER-DAEMON@mx1.example.com>\r\n" +
		"To: sender@example.org\r\n" +
		"Subject: Out of office\r\n" +
		"\r\n" +
		"I am away.\r\n"

	var signed bytes.Buffer
	require.NoError(t, signer.Sign(&signed, strings.NewReader(message)))

	out := signed.String()
	assert.True(t, strings.HasPrefix(out, "DKIM-Signature:"), "signature header must be prepended")
	assert.Contains(t, out, "d=example.com")
	assert.Contains(t, out, "s=s1")
	assert.Contains(t, out, "I am away.")
}

func TestBuildTable(t *testing.T) {
	path := writeTestKey(t)

	table, err := BuildTable(map[string]config.SignerConfig{
		"default":   {Domain: "example.com", Selector: "s1", KeyFile: path},
		"secondary": {Domain: "example.org", Selector: "s2", KeyFile: path},
	})
	require.NoError(t, err)
	require.Len(t, table, 2)
	assert.Equal(t, "default", table["default"].ID)

	_, err = BuildTable(map[string]config.SignerConfig{
		"broken": {Selector: "s1", KeyFile: path},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `signer "broken"`)
}
