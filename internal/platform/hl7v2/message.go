// Package hl7v2 reads HL7 v2 messages as they arrive from ADT feeds and
// answers them with acknowledgements over MLLP.
package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Message is a parsed HL7 v2 message. The header fields are copied out of
// MSH for convenience.
type Message struct {
	Type         string // MSH-9, e.g. "ADT^A01"
	ControlID    string // MSH-10
	Version      string // MSH-12
	Timestamp    time.Time
	SendingApp   string // MSH-3
	SendingFac   string // MSH-4
	ReceivingApp string // MSH-5
	ReceivingFac string // MSH-6
	Segments     []Segment
}

type Segment struct {
	Name   string
	Fields []Field
}

// Field holds the raw value plus its components. Repeats holds every
// repetition; Components is the first one.
type Field struct {
	Value      string
	Components []string
	Repeats    [][]string
}

// Parse reads a message whose segments are separated by \r, \n or \r\n.
// The first segment must be MSH.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}
	if !strings.HasPrefix(lines[0], "MSH") {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH, got %q", lines[0][:min(3, len(lines[0]))])
	}

	msg := &Message{}
	for _, line := range lines {
		seg, err := parseSegment(line)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: %w", err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	msh := msg.Segment("MSH")
	msg.SendingApp = msh.Field(3)
	msg.SendingFac = msh.Field(4)
	msg.ReceivingApp = msh.Field(5)
	msg.ReceivingFac = msh.Field(6)
	msg.Type = msh.Field(9)
	msg.ControlID = msh.Field(10)
	msg.Version = msh.Field(12)
	if ts, err := ParseTimestamp(msh.Field(7)); err == nil {
		msg.Timestamp = ts
	}
	return msg, nil
}

func parseSegment(line string) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}

	// In MSH the separator itself is field 1 and the encoding characters
	// field 2, so fields are stored starting from MSH-1.
	if strings.HasPrefix(line, "MSH") {
		seg := Segment{Name: "MSH"}
		if len(line) < 4 {
			return seg, nil
		}
		sep := string(line[3])
		seg.Fields = append(seg.Fields, Field{Value: sep, Components: []string{sep}, Repeats: [][]string{{sep}}})
		for _, part := range strings.Split(line[4:], sep) {
			seg.Fields = append(seg.Fields, parseField(part))
		}
		return seg, nil
	}

	name, rest, _ := strings.Cut(line, "|")
	seg := Segment{Name: name}
	if rest == "" {
		return seg, nil
	}
	for _, part := range strings.Split(rest, "|") {
		seg.Fields = append(seg.Fields, parseField(part))
	}
	return seg, nil
}

func parseField(raw string) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, "~") {
		f.Repeats = append(f.Repeats, strings.Split(rep, "^"))
	}
	f.Components = f.Repeats[0]
	return f
}

// ParseTimestamp reads the DTM forms YYYYMMDD[HHmm[ss]]. Fractional seconds
// and offsets are ignored and the result is UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".+-"); i >= 0 {
		s = s[:i]
	}
	switch {
	case len(s) >= 14:
		return time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp %q", s)
	}
}

// Segment returns the first segment named name, or nil.
func (m *Message) Segment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// MessageCode and TriggerEvent split MSH-9, e.g. "ADT" and "A01".
func (m *Message) MessageCode() string {
	code, _, _ := strings.Cut(m.Type, "^")
	return code
}

func (m *Message) TriggerEvent() string {
	parts := strings.Split(m.Type, "^")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Field returns field n, numbered as in the HL7 tables (PID-3 is Field(3)).
// Safe to call on a nil segment.
func (s *Segment) Field(n int) string {
	if s == nil || n < 1 || n > len(s.Fields) {
		return ""
	}
	return s.Fields[n-1].Value
}

// Component returns component c of field n from the first repetition.
func (s *Segment) Component(n, c int) string {
	if s == nil || n < 1 || n > len(s.Fields) {
		return ""
	}
	comps := s.Fields[n-1].Components
	if c < 1 || c > len(comps) {
		return ""
	}
	return comps[c-1]
}

// Serialize renders m with \r segment separators.
func Serialize(m *Message) []byte {
	lines := make([]string, 0, len(m.Segments))
	for _, seg := range m.Segments {
		lines = append(lines, serializeSegment(seg))
	}
	return []byte(strings.Join(lines, "\r"))
}

func serializeSegment(seg Segment) string {
	if seg.Name == "MSH" {
		if len(seg.Fields) < 2 {
			return "MSH|"
		}
		parts := make([]string, 0, len(seg.Fields)-1)
		for _, f := range seg.Fields[1:] {
			parts = append(parts, f.Value)
		}
		return "MSH|" + strings.Join(parts, "|")
	}

	parts := make([]string, len(seg.Fields))
	for i, f := range seg.Fields {
		parts[i] = f.Value
	}
	return seg.Name + "|" + strings.Join(parts, "|")
}
