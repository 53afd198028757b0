// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cli

import (
	"fmt"
	"net/http"
	"net/textproto"
	"sort"
	"strings"

	"github.com/spf13/pflag"
)

// headerValue is a repeatable "Name: value" flag.
type headerValue struct {
	h http.Header
}

var _ pflag.Value = (*headerValue)(nil)

func newHeaderValue() *headerValue {
	return &headerValue{h: make(http.Header)}
}

func (v *headerValue) String() string {
	if len(v.h) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v.h))
	for k := range v.h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, val := range v.h[k] {
			parts = append(parts, k+": "+val)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (v *headerValue) Set(s string) error {
	name, value, ok := strings.Cut(s, ":")
	if !ok {
		return fmt.Errorf("header %q: want \"Name: value\"", s)
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("header %q: bad name", s)
	}
	v.h.Add(textproto.CanonicalMIMEHeaderKey(name), strings.TrimSpace(value))
	return nil
}

func (v *headerValue) Type() string {
	return "header"
}
