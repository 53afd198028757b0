// Copyright 2021 The httpcall Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
)

// maxFilterInput bounds how much of a response body is decoded for
// filtering.
const maxFilterInput = 10 << 20

var errFilterInputTooLarge = errors.New("response body too large to filter")

// compileFilter parses and compiles a jq expression.
func compileFilter(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("jq parse: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compile: %w", err)
	}
	return code, nil
}

// filter decodes body as JSON, runs code over it and writes each
// result to w as one line of JSON. A string result is written raw
// when raw is true.
func filter(ctx context.Context, code *gojq.Code, body io.Reader, w io.Writer, raw bool) error {
	data, err := io.ReadAll(io.LimitReader(body, maxFilterInput+1))
	if err != nil {
		return err
	}
	if len(data) > maxFilterInput {
		return errFilterInputTooLarge
	}
	var input interface{}
	if err = json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("jq input: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				return nil
			}
			return err
		}
		if s, isStr := v.(string); isStr && raw {
			if _, err = fmt.Fprintln(w, s); err != nil {
				return err
			}
			continue
		}
		if err = enc.Encode(v); err != nil {
			return err
		}
	}
}
