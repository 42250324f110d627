package messaging

import "strings"

// Subjects follow {domain}.{stage}.{detail}.
const (
	// SubjectRaw receives unclassified CQHTTP payloads. Producers may append a
	// bot id, e.g. cqhttp.raw.10001.
	SubjectRaw = "cqhttp.raw"

	// SubjectEvents prefixes classified events: cqhttp.events.<post>.<detail>[.<sub>].
	SubjectEvents = "cqhttp.events"

	// SubjectDLQ prefixes dead letters: cqhttp.dlq.<reason>.
	SubjectDLQ = "cqhttp.dlq"
)

// QueueClassifiers is the queue group shared by classifier workers.
const QueueClassifiers = "cqevent-classifiers"

// Header keys set on published events.
const (
	HeaderEnvelopeID = "Cqevent-Envelope-Id"
	HeaderShape      = "Cqevent-Shape"
	HeaderMatch      = "Cqevent-Match"
)

// EventSubject returns the subject for an event named like "message.group.normal".
// An empty name maps to prefix + ".unknown".
func EventSubject(prefix, name string) string {
	name = strings.Trim(name, ".")
	if name == "" {
		name = "unknown"
	}
	return prefix + "." + sanitize(name)
}

// DLQSubject returns the dead letter subject for reason.
func DLQSubject(reason string) string {
	if reason == "" {
		reason = "unknown"
	}
	return SubjectDLQ + "." + sanitize(reason)
}

// sanitize replaces characters NATS reserves in subject tokens.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n', '*', '>':
			return '_'
		}
		return r
	}, s)
}
