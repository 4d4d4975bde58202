// Package dkim builds the DKIM signer table from configuration and signs
// mail the filtering engine generates (vacation responses, notifications)
// or redirects.
package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"time"

	msgauth "github.com/emersion/go-msgauth/dkim"
	"github.com/migadu/filterd/config"
)

// Signer holds a loaded DKIM signing identity.
type Signer struct {
	ID       string
	Domain   string
	Selector string

	key     crypto.Signer
	headers []string
	canon   msgauth.Canonicalization
	expiry  time.Duration
}

// DefaultSignedHeaders are signed when a signer configures none.
var DefaultSignedHeaders = []string{
	"From", "To", "Cc", "Subject", "Date", "Message-ID", "In-Reply-To", "References",
}

// NewSigner loads the signer's private key and validates its configuration.
func NewSigner(id string, cfg config.SignerConfig) (*Signer, error) {
	if cfg.Domain == "" {
		return nil, fmt.Errorf("signer %q: missing domain", id)
	}
	if cfg.Selector == "" {
		return nil, fmt.Errorf("signer %q: missing selector", id)
	}

	key, err := loadPrivateKey(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("signer %q: %w", id, err)
	}

	var canon msgauth.Canonicalization = msgauth.CanonicalizationRelaxed
	switch cfg.Canonicalization {
	case "", "relaxed":
	case "simple":
		canon = msgauth.CanonicalizationSimple
	default:
		return nil, fmt.Errorf("signer %q: unknown canonicalization %q", id, cfg.Canonicalization)
	}

	headers := cfg.Headers
	if len(headers) == 0 {
		headers = DefaultSignedHeaders
	}

	expiry, err := cfg.GetExpiry()
	if err != nil {
		return nil, fmt.Errorf("signer %q: %w", id, err)
	}

	return &Signer{
		ID:       id,
		Domain:   cfg.Domain,
		Selector: cfg.Selector,
		key:      key,
		headers:  headers,
		canon:    canon,
		expiry:   expiry,
	}, nil
}

// Sign reads a full message from r and writes it with a prepended
// DKIM-Signature header to w.
func (s *Signer) Sign(w io.Writer, r io.Reader) error {
	opts := &msgauth.SignOptions{
		Domain:                 s.Domain,
		Selector:               s.Selector,
		Signer:                 s.key,
		HeaderCanonicalization: s.canon,
		BodyCanonicalization:   s.canon,
		HeaderKeys:             s.headers,
	}
	if s.expiry > 0 {
		opts.Expiration = time.Now().Add(s.expiry)
	}
	if err := msgauth.Sign(w, r, opts); err != nil {
		return fmt.Errorf("signer %q: %w", s.ID, err)
	}
	return nil
}

// BuildTable constructs the signer table used to resolve sieve.sign
// references.
func BuildTable(cfgs map[string]config.SignerConfig) (map[string]*Signer, error) {
	table := make(map[string]*Signer, len(cfgs))
	for id, cfg := range cfgs {
		signer, err := NewSigner(id, cfg)
		if err != nil {
			return nil, err
		}
		table[id] = signer
	}
	return table, nil
}

// loadPrivateKey reads an RSA or Ed25519 private key in PEM form.
func loadPrivateKey(path string) (crypto.Signer, error) {
	if path == "" {
		return nil, fmt.Errorf("missing key_file")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("key file %q: no PEM block found", path)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("key file %q: %w", path, err)
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case ed25519.PrivateKey:
			return k, nil
		default:
			return nil, fmt.Errorf("key file %q: unsupported key type %T", path, key)
		}
	default:
		return nil, fmt.Errorf("key file %q: unsupported PEM block %q", path, block.Type)
	}
}
