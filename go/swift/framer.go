package swift

import (
	"fmt"
	"regexp"
	"strings"
)

// Field is a single (tag, option, value) triple of block 4.
// Multi-line values retain their interior newlines.
type Field struct {
	Tag    string `json:"tag"`
	Option string `json:"option,omitempty"`
	Value  string `json:"value"`
}

// FullTag is the tag with its option letter appended, e.g. "32A".
func (f Field) FullTag() string { return f.Tag + f.Option }

// FramedMessage is the block-level decomposition of a raw SWIFT payload:
// the ordered block-4 fields plus the raw block 1/2 headers, which are
// retained for diagnostics only.
type FramedMessage struct {
	Header1 string
	Header2 string
	Fields  []Field
}

// MessageType extracts the numeric MT type from the block-2 application
// header, e.g. "103" from {2:I103BANKDEFFXXXXN}. Payloads without a block-2
// header default to "103".
func (f *FramedMessage) MessageType() string {
	var m = header2TypeRe.FindStringSubmatch(f.Header2)
	if m == nil {
		return "103"
	}
	return m[1]
}

// Get returns the first field with the given bare tag (option ignored).
func (f *FramedMessage) Get(tag string) (Field, bool) {
	for _, fld := range f.Fields {
		if fld.Tag == tag {
			return fld, true
		}
	}
	return Field{}, false
}

// FramingCause classifies block-framing failures.
type FramingCause string

const (
	MissingBlock4      FramingCause = "MissingBlock4"
	UnterminatedBlock4 FramingCause = "UnterminatedBlock4"
	MalformedTagLine   FramingCause = "MalformedTagLine"
)

// FramingError reports a failure to decompose a raw payload into blocks.
// Framing errors are fatal for the message.
type FramingError struct {
	Cause  FramingCause
	Detail string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error (%s): %s", e.Cause, e.Detail)
}

var (
	headerBlockRe = regexp.MustCompile(`\{([12]):([^}]*)\}`)
	tagLineRe     = regexp.MustCompile(`^:(\d{2})([A-Z])?:(.*)$`)
	header2TypeRe = regexp.MustCompile(`^[IO](\d{3})`)
)

// Frame splits a raw SWIFT payload into its blocks and extracts the ordered
// tag fields of block 4. CRLF line breaks are normalized to LF before
// splitting; a bare CR is not a separator.
func Frame(raw string) (*FramedMessage, error) {
	var out = new(FramedMessage)

	for _, m := range headerBlockRe.FindAllStringSubmatch(raw, -1) {
		switch m[1] {
		case "1":
			if out.Header1 == "" {
				out.Header1 = m[2]
			}
		case "2":
			if out.Header2 == "" {
				out.Header2 = m[2]
			}
		}
	}

	var start = strings.Index(raw, "{4:")
	if start == -1 {
		return nil, &FramingError{Cause: MissingBlock4,
			Detail: "payload has no {4: text block"}
	}
	var body = raw[start+len("{4:"):]

	var end = strings.Index(body, "-}")
	if end == -1 {
		if strings.ContainsRune(body, '}') {
			return nil, &FramingError{Cause: UnterminatedBlock4,
				Detail: "block 4 is not terminated by the -} trailer"}
		}
		return nil, &FramingError{Cause: UnterminatedBlock4,
			Detail: "input ended while still inside block 4"}
	}
	body = body[:end]
	body = strings.ReplaceAll(body, "\r\n", "\n")

	var cur *Field
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, ":") {
			var m = tagLineRe.FindStringSubmatch(line)
			if m == nil {
				return nil, &FramingError{Cause: MalformedTagLine,
					Detail: fmt.Sprintf("line %q does not begin with a valid :TAG:", line)}
			}
			out.Fields = append(out.Fields, Field{Tag: m[1], Option: m[2], Value: m[3]})
			cur = &out.Fields[len(out.Fields)-1]
			continue
		}
		if cur == nil {
			if strings.TrimSpace(line) == "" {
				continue // Leading blank line after {4: is conventional.
			}
			return nil, &FramingError{Cause: MalformedTagLine,
				Detail: fmt.Sprintf("content %q precedes the first tag of block 4", line)}
		}
		cur.Value += "\n" + line
	}

	if len(out.Fields) == 0 {
		return nil, &FramingError{Cause: MissingBlock4,
			Detail: "block 4 contains no fields"}
	}

	for i := range out.Fields {
		out.Fields[i].Value = strings.TrimRight(out.Fields[i].Value, "\n")
	}
	return out, nil
}
