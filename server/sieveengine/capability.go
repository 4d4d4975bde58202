package sieveengine

// Capability is a named optional feature of the scripting engine that can
// be enabled or disabled independently.
type Capability string

const (
	CapFileInto         Capability = "fileinto"
	CapEnvelope         Capability = "envelope"
	CapEncodedCharacter Capability = "encoded-character"
	CapImap4Flags       Capability = "imap4flags"
	CapVariables        Capability = "variables"
	CapRelational       Capability = "relational"
	CapVacation         Capability = "vacation"
	CapVacationSeconds  Capability = "vacation-seconds"
	CapCopy             Capability = "copy"
	CapRegex            Capability = "regex"
	CapFcc              Capability = "fcc"
	CapMailbox          Capability = "mailbox"
	CapMailboxID        Capability = "mailboxid"
	CapMboxMetadata     Capability = "mboxmetadata"
	CapServerMetadata   Capability = "servermetadata"
	CapImapSieve        Capability = "imapsieve"
	CapDuplicate        Capability = "duplicate"
	CapExecute          Capability = "execute"
)

// AllCapabilities is the full capability catalogue of the engine.
// Core RFC 5228 commands (require, if/elsif/else, stop, redirect, keep,
// discard) are always available and are not capabilities.
var AllCapabilities = []Capability{
	CapFileInto,
	CapEnvelope,
	CapEncodedCharacter,
	CapImap4Flags,
	CapVariables,
	CapRelational,
	CapVacation,
	CapVacationSeconds,
	CapCopy,
	CapRegex,
	CapFcc,
	CapMailbox,
	CapMailboxID,
	CapMboxMetadata,
	CapServerMetadata,
	CapImapSieve,
	CapDuplicate,
	CapExecute,
}

// SystemDisabledCapabilities are mailstore-level capabilities that make no
// sense for MTA-side system scripts and are disabled in the stock engine
// configuration. CapExecute is the one capability explicitly re-enabled.
var SystemDisabledCapabilities = []Capability{
	CapFileInto,
	CapVacation,
	CapVacationSeconds,
	CapFcc,
	CapMailbox,
	CapMailboxID,
	CapMboxMetadata,
	CapServerMetadata,
	CapImapSieve,
	CapDuplicate,
}

// compilableExtensions lists the capabilities the script compiler itself
// understands as extensions. Capabilities outside this set only gate
// runtime behavior.
var compilableExtensions = map[Capability]struct{}{
	CapFileInto:         {},
	CapEnvelope:         {},
	CapEncodedCharacter: {},
	CapImap4Flags:       {},
	CapVariables:        {},
	CapRelational:       {},
	CapVacation:         {},
	CapCopy:             {},
	CapRegex:            {},
}
