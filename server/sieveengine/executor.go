package sieveengine

import (
	"context"
	"time"

	"github.com/migadu/go-sieve"
	"github.com/migadu/filterd/pkg/metrics"
)

type Action string

const (
	ActionKeep     Action = "keep"
	ActionDiscard  Action = "discard"
	ActionFileInto Action = "fileinto"
	ActionRedirect Action = "redirect"
	ActionVacation Action = "vacation"
)

// HeaderEdit represents a header modification from the editheader extension
type HeaderEdit struct {
	Action    string // "add" or "delete"
	FieldName string
	Value     string
	Last      bool // for addheader: add at end; for deleteheader: count from end
	Index     int  // for deleteheader: specific index (0 means all)
}

type Result struct {
	Action         Action
	Mailbox        string       // used for fileinto
	RedirectTo     string       // used for redirect
	Flags          []string     // flags to add to the message
	VacationFrom   string       // used for vacation - from address
	VacationSubj   string       // used for vacation - subject
	VacationMsg    string       // used for vacation - message body
	VacationIsMime bool         // used for vacation - is MIME message
	Copy           bool         // RFC3894 - :copy modifier for redirect and fileinto
	CreateMailbox  bool         // RFC5490 - :create modifier (mailbox extension)
	HeaderEdits    []HeaderEdit // RFC5293 - editheader extension
}

// Context describes one message presented to a script for evaluation.
// Account identifies the recipient account for duplicate and vacation
// tracking in the configured directory.
type Context struct {
	Account      string
	EnvelopeFrom string
	EnvelopeTo   string
	Header       map[string][]string
	Body         string
}

// Executor evaluates one compiled script against messages. It is safe
// for concurrent use; every Evaluate runs with its own policy instance.
type Executor struct {
	script *Script
	policy *Policy
}

// Executor returns an executor for the named compiled script.
func (c *Core) Executor(name string) (*Executor, bool) {
	script, ok := c.Scripts[name]
	if !ok {
		return nil, false
	}
	return &Executor{
		script: script,
		policy: &Policy{
			limits:    c.Runtime.Limits(),
			directory: c.Directory,
		},
	}, true
}

// NewExecutor creates an executor outside a Core, for validation paths
// and tests.
func NewExecutor(script *Script, runtime *Runtime) *Executor {
	return &Executor{
		script: script,
		policy: &Policy{limits: runtime.Limits()},
	}
}

// Evaluate runs the script against the message in mctx and maps the
// interpreter's runtime state to a single Result.
func (e *Executor) Evaluate(evalCtx context.Context, mctx Context) (Result, error) {
	start := time.Now()

	envelope := &scriptEnvelope{
		From: mctx.EnvelopeFrom,
		To:   mctx.EnvelopeTo,
	}
	message := &scriptMessage{
		Headers: mctx.Header,
		Body:    []byte(mctx.Body),
		Size:    len(mctx.Body),
	}

	// Per-execution policy so counters and cooldown state never leak
	// between messages.
	execPolicy := e.policy.forExecution(mctx.Account)

	data := sieve.NewRuntimeData(e.script.program, execPolicy, envelope, message)

	if err := e.script.program.Execute(evalCtx, data); err != nil {
		metrics.ScriptExecutions.WithLabelValues("error").Inc()
		return Result{Action: ActionKeep}, err
	}

	result := Result{
		Action: ActionKeep,
		Flags:  make([]string, 0),
	}

	vacationTriggered := len(data.VacationResponses) > 0

	// fileinto and redirect take precedence over vacation.
	if len(data.Mailboxes) > 0 {
		result.Action = ActionFileInto
		result.Mailbox = data.Mailboxes[0]

		// ImplicitKeep set after fileinto means :copy was used; an
		// explicit keep after fileinto still keeps a copy in INBOX.
		result.Copy = data.ImplicitKeep || data.Keep

		for _, createMailbox := range data.MailboxesCreate {
			if createMailbox == result.Mailbox {
				result.CreateMailbox = true
				break
			}
		}
	} else if len(data.RedirectAddr) > 0 {
		result.Action = ActionRedirect
		result.RedirectTo = data.RedirectAddr[0]
		result.Copy = data.ImplicitKeep || data.Keep
	} else if !data.Keep && !data.ImplicitKeep {
		result.Action = ActionDiscard
	} else if vacationTriggered {
		// Vacation is an implicit keep per RFC 5230, so it only
		// surfaces when no other action cancelled the keep.
		for sender, vacation := range data.VacationResponses {
			duration := time.Duration(vacation.Days) * 24 * time.Hour
			allowed, err := execPolicy.VacationResponseAllowed(evalCtx, data, sender, vacation.Handle, duration)
			if err != nil {
				metrics.VacationResponses.WithLabelValues("error").Inc()
				continue
			}
			if allowed {
				result.Action = ActionVacation
				result.VacationFrom = vacation.From
				result.VacationSubj = vacation.Subject
				result.VacationMsg = vacation.Body
				result.VacationIsMime = vacation.IsMime
				_ = execPolicy.SendVacationResponse(evalCtx, data, sender, vacation.From, vacation.Subject, vacation.Body, vacation.IsMime)
			}
			break
		}
	}

	if len(data.Flags) > 0 {
		result.Flags = data.Flags
	}

	if len(data.HeaderEdits) > 0 {
		result.HeaderEdits = make([]HeaderEdit, len(data.HeaderEdits))
		for i, edit := range data.HeaderEdits {
			result.HeaderEdits[i] = HeaderEdit{
				Action:    edit.Action,
				FieldName: edit.FieldName,
				Value:     edit.Value,
				Last:      edit.Last,
				Index:     edit.Index,
			}
		}
	}

	metrics.ScriptExecutions.WithLabelValues(string(result.Action)).Inc()
	metrics.ScriptExecutionDuration.Observe(time.Since(start).Seconds())

	return result, nil
}

// scriptEnvelope implements the interpreter's Envelope interface
type scriptEnvelope struct {
	From string
	To   string
	Auth string
}

func (e *scriptEnvelope) EnvelopeFrom() string { return e.From }

func (e *scriptEnvelope) EnvelopeTo() string { return e.To }

func (e *scriptEnvelope) AuthUsername() string { return e.Auth }

// scriptMessage implements the interpreter's Message interface
type scriptMessage struct {
	Headers map[string][]string
	Body    []byte
	Size    int
}

func (m *scriptMessage) HeaderGet(key string) ([]string, error) {
	return m.Headers[key], nil
}

func (m *scriptMessage) MessageSize() int { return m.Size }

func (m *scriptMessage) BodyRaw() ([]byte, bool, error) { return m.Body, true, nil }
