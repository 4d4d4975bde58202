package sieveengine

import (
	"context"
	"fmt"
	"time"

	"github.com/migadu/go-sieve/interp"
	"github.com/migadu/filterd/directory"
	"github.com/migadu/filterd/pkg/metrics"
)

// Policy implements the interpreter's PolicyReader interface. It
// enforces the runtime's redirect and outbound-message budgets and
// consults the configured directory for persistent vacation cooldowns.
// A Policy instance tracks per-execution counters and must not be
// shared between evaluations; see forExecution.
type Policy struct {
	limits    RuntimeLimits
	directory directory.Directory

	account            string
	redirects          int
	outMessages        int
	vacationResponses  map[string]time.Time
	lastVacationHandle string
}

// forExecution clones the policy template for a single evaluation.
func (p *Policy) forExecution(account string) *Policy {
	return &Policy{
		limits:            p.limits,
		directory:         p.directory,
		account:           account,
		vacationResponses: make(map[string]time.Time),
	}
}

func (p *Policy) RedirectAllowed(ctx context.Context, d *interp.RuntimeData, addr string) (bool, error) {
	if p.limits.MaxRedirects > 0 && p.redirects >= p.limits.MaxRedirects {
		metrics.RedirectsBlocked.Inc()
		return false, nil
	}
	p.redirects++
	return true, nil
}

// VacationResponseAllowed is called by the interpreter before a vacation
// response is generated. originalSender is the sender of the message
// being processed, handle distinguishes multiple vacation actions in one
// script, and duration is the :days cooldown.
func (p *Policy) VacationResponseAllowed(ctx context.Context, d *interp.RuntimeData,
	originalSender, handle string, duration time.Duration) (bool, error) {

	if p.limits.MaxOutMessages > 0 && p.outMessages >= p.limits.MaxOutMessages {
		metrics.VacationResponses.WithLabelValues("suppressed").Inc()
		return false, nil
	}

	inMemoryKey := originalSender + ":" + handle

	if p.directory != nil {
		recent, err := p.directory.HasRecentVacationResponse(ctx, p.account, originalSender, duration)
		if err != nil {
			return false, fmt.Errorf("checking vacation cooldown: %w", err)
		}
		if recent {
			metrics.VacationResponses.WithLabelValues("suppressed").Inc()
			return false, nil
		}
	} else {
		// Without a directory only the per-handle cooldown within this
		// evaluation applies.
		lastSent, exists := p.vacationResponses[inMemoryKey]
		if exists && time.Since(lastSent) < duration {
			metrics.VacationResponses.WithLabelValues("suppressed").Inc()
			return false, nil
		}
	}

	p.vacationResponses[inMemoryKey] = time.Now()
	p.lastVacationHandle = handle

	return true, nil
}

// SendVacationResponse is called by the interpreter after
// VacationResponseAllowed returned true. recipient is the address the
// vacation message goes to, i.e. the original sender.
func (p *Policy) SendVacationResponse(ctx context.Context, d *interp.RuntimeData,
	recipient, from, subject, body string, isMime bool) error {

	p.outMessages++

	if p.directory != nil {
		if err := p.directory.RecordVacationResponse(ctx, p.account, recipient); err != nil {
			return fmt.Errorf("recording vacation response: %w", err)
		}
	}
	metrics.VacationResponses.WithLabelValues("sent").Inc()
	return nil
}
