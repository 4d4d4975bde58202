package delivery

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/migadu/filterd/server/sieveengine"
)

// ComposeVacationResponse builds the auto-response message for a
// vacation result. The decision to send and the cooldown bookkeeping
// already happened inside the engine policy; this only renders the
// message. identity supplies the fallback sender when the script gave
// no :from, hostname feeds the generated Message-ID.
func ComposeVacationResponse(identity sieveengine.Identity, result sieveengine.Result,
	originalMessage *message.Entity, recipient, hostname string) ([]byte, error) {

	vacationFrom := result.VacationFrom
	if vacationFrom == "" {
		if identity.FromName != "" {
			vacationFrom = fmt.Sprintf("%s <%s>", identity.FromName, identity.FromAddr)
		} else {
			vacationFrom = identity.FromAddr
		}
	}

	vacationSubject := result.VacationSubj
	if vacationSubject == "" {
		vacationSubject = "Auto: Out of Office"
	}

	var originalMessageID string
	if originalMessage != nil {
		originalHeader := mail.Header{Header: originalMessage.Header}
		originalMessageID, _ = originalHeader.MessageID()
	}

	var vacationMessage bytes.Buffer
	var h message.Header
	h.Set("From", vacationFrom)
	h.Set("To", recipient)
	h.Set("Subject", vacationSubject)
	h.Set("Message-ID", fmt.Sprintf("<%d.vacation@%s>", time.Now().UnixNano(), hostname))

	if originalMessageID != "" {
		h.Set("In-Reply-To", "<"+originalMessageID+">")
		h.Set("References", "<"+originalMessageID+">")
	}
	h.Set("Auto-Submitted", "auto-replied")
	h.Set("X-Auto-Response-Suppress", "All")
	h.Set("Date", time.Now().Format(time.RFC1123Z))

	w, err := message.CreateWriter(&vacationMessage, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	var textHeader message.Header
	if result.VacationIsMime {
		// :mime bodies carry their own MIME headers inline.
		textHeader.Set("Content-Type", "message/rfc822")
	} else {
		textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	}
	textWriter, err := w.CreatePart(textHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	if _, err := textWriter.Write([]byte(result.VacationMsg)); err != nil {
		return nil, fmt.Errorf("failed to write vacation message body: %w", err)
	}

	textWriter.Close()
	w.Close()

	return vacationMessage.Bytes(), nil
}
