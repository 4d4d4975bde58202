package delivery

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-smtp"

	"github.com/migadu/filterd/config"
	"github.com/migadu/filterd/pkg/metrics"
	"github.com/migadu/filterd/pkg/retry"
)

// Relay submits engine-generated mail (redirects, vacation responses)
// to the external smarthost over TLS.
type Relay struct {
	addr    string
	hello   string
	backoff retry.BackoffConfig
}

// NewRelay creates a relay client from configuration. Returns nil when
// no relay address is configured; callers treat a nil relay as
// "generated mail cannot be sent".
func NewRelay(cfg *config.RelayConfig) (*Relay, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, nil
	}

	interval, err := cfg.GetRetryInterval()
	if err != nil {
		return nil, err
	}
	backoff := retry.DefaultBackoffConfig()
	backoff.InitialInterval = interval
	backoff.MaxRetries = cfg.GetMaxAttempts()

	return &Relay{
		addr:    cfg.Addr,
		hello:   cfg.Hello,
		backoff: backoff,
	}, nil
}

// Addr returns the configured relay address.
func (r *Relay) Addr() string { return r.addr }

// Send submits message from sender to recipient, retrying transient
// failures with exponential backoff.
func (r *Relay) Send(ctx context.Context, from, to string, message []byte) error {
	err := retry.WithRetry(ctx, func() error {
		return r.submit(from, to, message)
	}, r.backoff)
	if err != nil {
		metrics.RelaySubmissions.WithLabelValues("failure").Inc()
		return err
	}
	metrics.RelaySubmissions.WithLabelValues("success").Inc()
	return nil
}

func (r *Relay) submit(from, to string, message []byte) error {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	c, err := smtp.DialTLS(r.addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to relay with TLS: %w", err)
	}
	defer c.Close()

	if r.hello != "" {
		if err := c.Hello(r.hello); err != nil {
			return fmt.Errorf("failed to send HELO: %w", err)
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := c.Rcpt(to, nil); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := wc.Write(message); err != nil {
		// Close the data writer even on failure to send the final dot.
		_ = wc.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data: %w", err)
	}

	return c.Quit()
}
