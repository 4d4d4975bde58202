// Package delivery applies script evaluation results to messages: it
// renders vacation responses, signs generated mail and hands redirects
// and auto-replies to the outbound relay.
package delivery

import (
	"bytes"
	"context"
	"fmt"

	"github.com/migadu/filterd/dkim"
	"github.com/migadu/filterd/logger"
	"github.com/migadu/filterd/server/sieveengine"
)

// Disposition tells the calling MTA what to do with the original
// message after the engine result has been applied.
type Disposition struct {
	// Keep means the message should be delivered locally.
	Keep bool
	// Mailbox is the local folder for fileinto results, empty otherwise.
	Mailbox string
	// Discarded means the message was dropped by the script.
	Discarded bool
	// Flags to attach on local delivery.
	Flags []string
}

// Dispatcher turns evaluation results into relay submissions and a
// local delivery disposition.
type Dispatcher struct {
	core  *sieveengine.Core
	relay *Relay
}

// NewDispatcher creates a dispatcher for core. relay may be nil; then
// redirects fall back to local delivery and vacation responses are
// dropped.
func NewDispatcher(core *sieveengine.Core, relay *Relay) *Dispatcher {
	return &Dispatcher{core: core, relay: relay}
}

// Apply handles one evaluation result for the raw message sent by
// sender to recipient.
func (d *Dispatcher) Apply(ctx context.Context, result sieveengine.Result,
	raw []byte, sender, recipient string) (Disposition, error) {

	disp := Disposition{Flags: result.Flags}

	switch result.Action {
	case sieveengine.ActionDiscard:
		logger.InfoContext(ctx, "message discarded by script", "sender", sender, "recipient", recipient)
		disp.Discarded = true
		return disp, nil

	case sieveengine.ActionFileInto:
		disp.Keep = true
		disp.Mailbox = result.Mailbox
		return disp, nil

	case sieveengine.ActionRedirect:
		if d.relay == nil {
			logger.WarnContext(ctx, "redirect requested but no relay configured, keeping message",
				"redirect_to", result.RedirectTo)
			disp.Keep = true
			return disp, nil
		}
		signed, err := d.sign(raw)
		if err != nil {
			return disp, fmt.Errorf("failed to sign redirected message: %w", err)
		}
		if err := d.relay.Send(ctx, sender, result.RedirectTo, signed); err != nil {
			// Keep locally when the relay rejects the redirect.
			logger.ErrorContext(ctx, "redirect submission failed, keeping message",
				"redirect_to", result.RedirectTo, "error", err)
			disp.Keep = true
			return disp, nil
		}
		logger.InfoContext(ctx, "message redirected", "redirect_to", result.RedirectTo, "copy", result.Copy)
		disp.Keep = result.Copy
		return disp, nil

	case sieveengine.ActionVacation:
		disp.Keep = true
		if d.relay == nil {
			logger.WarnContext(ctx, "vacation response triggered but no relay configured", "sender", sender)
			return disp, nil
		}
		entity, err := ParseMessage(raw)
		if err != nil {
			return disp, err
		}
		response, err := ComposeVacationResponse(d.core.Identity, result, entity,
			sender, d.core.Runtime.LocalHostname())
		if err != nil {
			return disp, fmt.Errorf("failed to compose vacation response: %w", err)
		}
		signed, err := d.sign(response)
		if err != nil {
			return disp, fmt.Errorf("failed to sign vacation response: %w", err)
		}
		if err := d.relay.Send(ctx, d.core.Identity.ReturnPath, sender, signed); err != nil {
			// The cooldown was already recorded; a relay failure here
			// is a delivery problem, not a script problem.
			logger.ErrorContext(ctx, "vacation response submission failed", "sender", sender, "error", err)
		}
		return disp, nil

	default:
		disp.Keep = true
		return disp, nil
	}
}

// sign runs the message through every configured signer in order, each
// prepending its DKIM-Signature header.
func (d *Dispatcher) sign(raw []byte) ([]byte, error) {
	return Sign(d.core.Sign, raw)
}

// Sign applies signers to raw in order and returns the signed message.
func Sign(signers []*dkim.Signer, raw []byte) ([]byte, error) {
	out := raw
	for _, signer := range signers {
		var buf bytes.Buffer
		if err := signer.Sign(&buf, bytes.NewReader(out)); err != nil {
			return nil, err
		}
		out = buf.Bytes()
	}
	return out, nil
}
