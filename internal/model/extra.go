// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

// Extra holds record fields this build does not know, for example fields
// written by a newer keyctl. They are written back unchanged.
type Extra map[string]json.RawMessage

var fieldNames sync.Map // reflect.Type -> []string

// knownFields returns the JSON names of t's fields.
func knownFields(t reflect.Type) []string {
	if v, ok := fieldNames.Load(t); ok {
		return v.([]string)
	}
	var names []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" || !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		names = append(names, name)
	}
	fieldNames.Store(t, names)
	return names
}

// splitExtra returns the members of the JSON object data that are not
// fields of t.
func splitExtra(data []byte, t reflect.Type) (Extra, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, n := range knownFields(t) {
		delete(all, n)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// mergeExtra adds extra to the encoded object data. Known fields win.
func mergeExtra(data []byte, extra Extra) ([]byte, error) {
	if len(extra) == 0 {
		return data, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

func (k Key) MarshalJSON() ([]byte, error) {
	type plain Key
	data, err := json.Marshal(plain(k))
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, k.Extra)
}

func (k *Key) UnmarshalJSON(data []byte) error {
	type plain Key
	if err := json.Unmarshal(data, (*plain)(k)); err != nil {
		return err
	}
	extra, err := splitExtra(data, reflect.TypeOf(plain{}))
	k.Extra = extra
	return err
}

func (h HostConfigEntry) MarshalJSON() ([]byte, error) {
	type plain HostConfigEntry
	data, err := json.Marshal(plain(h))
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, h.Extra)
}

func (h *HostConfigEntry) UnmarshalJSON(data []byte) error {
	type plain HostConfigEntry
	if err := json.Unmarshal(data, (*plain)(h)); err != nil {
		return err
	}
	extra, err := splitExtra(data, reflect.TypeOf(plain{}))
	h.Extra = extra
	return err
}

func (l RepoLink) MarshalJSON() ([]byte, error) {
	type plain RepoLink
	data, err := json.Marshal(plain(l))
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, l.Extra)
}

func (l *RepoLink) UnmarshalJSON(data []byte) error {
	type plain RepoLink
	if err := json.Unmarshal(data, (*plain)(l)); err != nil {
		return err
	}
	extra, err := splitExtra(data, reflect.TypeOf(plain{}))
	l.Extra = extra
	return err
}

func (u UsageRecord) MarshalJSON() ([]byte, error) {
	type plain UsageRecord
	data, err := json.Marshal(plain(u))
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, u.Extra)
}

func (u *UsageRecord) UnmarshalJSON(data []byte) error {
	type plain UsageRecord
	if err := json.Unmarshal(data, (*plain)(u)); err != nil {
		return err
	}
	extra, err := splitExtra(data, reflect.TypeOf(plain{}))
	u.Extra = extra
	return err
}
