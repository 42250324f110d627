package logging

import "log/slog"

// Field names shared by every component.
const (
	FieldService    = "service"
	FieldComponent  = "component"
	FieldEnvelopeID = "envelope_id"
	FieldEventName  = "event_name"
	FieldShape      = "shape"
	FieldMatch      = "match"
	FieldPostType   = "post_type"
	FieldSubject    = "subject"
	FieldError      = "error"
	FieldDuration   = "duration_ms"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component tags log lines with the emitting subsystem, e.g. "processor".
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

func EnvelopeID(id string) slog.Attr {
	return slog.String(FieldEnvelopeID, id)
}

// EventName returns the dotted discriminator name, e.g. "message.group.normal".
func EventName(name string) slog.Attr {
	return slog.String(FieldEventName, name)
}

func Shape(name string) slog.Attr {
	return slog.String(FieldShape, name)
}

func Match(m string) slog.Attr {
	return slog.String(FieldMatch, m)
}

func PostType(t string) slog.Attr {
	return slog.String(FieldPostType, t)
}

func Subject(s string) slog.Attr {
	return slog.String(FieldSubject, s)
}

// Error returns a slog attribute for an error. A nil error renders as "<nil>".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "<nil>")
	}
	return slog.String(FieldError, err.Error())
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}
