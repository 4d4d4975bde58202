package delivery

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/k3a/html2text"

	"github.com/migadu/filterd/server/sieveengine"
)

// ParseMessage reads a raw RFC 5322 message into an entity.
func ParseMessage(raw []byte) (*message.Entity, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return entity, nil
}

// ExtractPlaintext walks the MIME structure and returns the first
// text/plain part. When only an HTML body exists it is converted to
// plain text.
func ExtractPlaintext(entity *message.Entity) (string, error) {
	var plaintextBody *string
	var htmlBody *string

	var extractContent func(*message.Entity) error
	extractContent = func(e *message.Entity) error {
		mediaType, _, err := e.Header.ContentType()
		if err != nil {
			return fmt.Errorf("error getting content type: %v", err)
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			mr := e.MultipartReader()
			if mr == nil {
				return fmt.Errorf("nil multipart reader for multipart content type")
			}
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					return fmt.Errorf("error reading multipart: %v", err)
				}
				if err := extractContent(part); err != nil {
					return err
				}
			}
			return nil
		}

		content, err := io.ReadAll(e.Body)
		if err != nil {
			return fmt.Errorf("error reading entity body: %v", err)
		}

		switch mediaType {
		case "text/plain":
			if plaintextBody == nil {
				s := string(content)
				plaintextBody = &s
			}
		case "text/html":
			if htmlBody == nil {
				s := string(content)
				htmlBody = &s
			}
		}
		return nil
	}

	if err := extractContent(entity); err != nil {
		return "", err
	}

	if plaintextBody == nil && htmlBody != nil {
		plaintext := html2text.HTML2Text(*htmlBody)
		plaintextBody = &plaintext
	}
	if plaintextBody == nil {
		return "", nil
	}
	return *plaintextBody, nil
}

// EvaluationContext builds the script evaluation context for a raw
// message delivered from sender to recipient. The recipient address
// doubles as the tracking account.
func EvaluationContext(raw []byte, sender, recipient string) (sieveengine.Context, error) {
	entity, err := ParseMessage(raw)
	if err != nil {
		return sieveengine.Context{}, err
	}

	headers := make(map[string][]string)
	fields := entity.Header.Fields()
	for fields.Next() {
		headers[fields.Key()] = append(headers[fields.Key()], fields.Value())
	}

	body, err := ExtractPlaintext(entity)
	if err != nil {
		// A body that cannot be decoded still gets filtered on its
		// headers.
		body = ""
	}

	return sieveengine.Context{
		Account:      recipient,
		EnvelopeFrom: sender,
		EnvelopeTo:   recipient,
		Header:       headers,
		Body:         body,
	}, nil
}
