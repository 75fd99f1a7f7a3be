// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Document is the store's top-level JSON object. Sections are kept as raw
// JSON so sections this build does not know about survive a
// read-modify-write untouched.
type Document struct {
	sections map[string]json.RawMessage
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{sections: map[string]json.RawMessage{}}
}

func parseDocument(data []byte) (*Document, error) {
	d := NewDocument()
	if len(bytes.TrimSpace(data)) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(data, &d.sections); err != nil {
		return nil, err
	}
	if d.sections == nil {
		d.sections = map[string]json.RawMessage{}
	}
	return d, nil
}

func (d *Document) marshal() ([]byte, error) {
	out, err := json.MarshalIndent(d.sections, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Decode unmarshals section into v. A missing section leaves v untouched.
func (d *Document) Decode(section string, v any) error {
	raw, ok := d.sections[section]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode section %q: %w", section, err)
	}
	return nil
}

// Encode replaces section with the JSON encoding of v.
func (d *Document) Encode(section string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode section %q: %w", section, err)
	}
	d.sections[section] = raw
	return nil
}

// Delete drops a section.
func (d *Document) Delete(section string) { delete(d.sections, section) }

// Has reports whether section is present.
func (d *Document) Has(section string) bool {
	_, ok := d.sections[section]
	return ok
}

// Sections lists the section names in sorted order.
func (d *Document) Sections() []string {
	names := make([]string, 0, len(d.sections))
	for k := range d.sections {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := NewDocument()
	for k, v := range d.sections {
		c.sections[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// Equal compares two documents section by section after compaction.
func (d *Document) Equal(o *Document) bool {
	if len(d.sections) != len(o.sections) {
		return false
	}
	for k, a := range d.sections {
		b, ok := o.sections[k]
		if !ok || !jsonEqual(a, b) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
