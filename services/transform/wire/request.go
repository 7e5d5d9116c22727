// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wire defines the JSON request and response documents exchanged
// with agents, plus the execution log entry derived from them.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/llmtransform/services/transform/edit"
)

// MaxRequestSize caps a decoded request document (32MB).
const MaxRequestSize = 32 * 1024 * 1024

// AutoExecutionID asks the server to generate an execution ID.
const AutoExecutionID = "auto"

var (
	// ErrInvalidRequest indicates a request document that failed to parse or validate.
	ErrInvalidRequest = errors.New("invalid edit request")

	// ErrRequestTooLarge indicates a request document over MaxRequestSize.
	ErrRequestTooLarge = errors.New("edit request too large")
)

// EditJSON is one edit as sent on the wire.
type EditJSON struct {
	ByteStart   int    `json:"byte_start" validate:"min=0"`
	ByteEnd     int    `json:"byte_end" validate:"min=0"`
	Replacement string `json:"replacement"`
}

// Request is a batch of edits computed against one snapshot.
//
// byte_end < byte_start is accepted here; the engine reports it as an
// error outcome with the offending span.
type Request struct {
	ExecutionID      string     `json:"execution_id"`
	ExpectedChecksum string     `json:"expected_checksum" validate:"required,len=64,hexadecimal"`
	Edits            []EditJSON `json:"edits" validate:"required,dive"`
}

// IDGenerator produces execution IDs.
type IDGenerator func() string

// NewExecutionID returns "exec-" followed by a random UUID.
func NewExecutionID() string {
	return "exec-" + uuid.NewString()
}

// ResolveExecutionID returns the request's execution ID, generating one with
// gen when it is empty or "auto". A nil gen uses NewExecutionID.
func (r *Request) ResolveExecutionID(gen IDGenerator) string {
	if r.ExecutionID != "" && r.ExecutionID != AutoExecutionID {
		return r.ExecutionID
	}
	if gen == nil {
		gen = NewExecutionID
	}
	return gen()
}

// Checksum returns the batch's expected checksum.
func (r *Request) Checksum() edit.Checksum {
	return edit.Checksum(r.ExpectedChecksum)
}

// ToEdits converts the wire edits into engine edits, each tagged with the
// request's expected checksum.
func (r *Request) ToEdits() []edit.Edit {
	edits := make([]edit.Edit, len(r.Edits))
	for i, e := range r.Edits {
		edits[i] = edit.Edit{
			Span:        edit.Span{Start: e.ByteStart, End: e.ByteEnd},
			Replacement: e.Replacement,
		}
	}
	return edit.Tag(edits, r.Checksum())
}

// Validate checks the request's struct tags.
func (r *Request) Validate() error {
	if err := validate().Struct(r); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, describeValidation(err))
	}
	return nil
}

// DecodeRequest reads, parses and validates a request document.
//
// # Inputs
//
//   - rd: Source of the JSON document. Read up to MaxRequestSize+1 bytes.
//
// # Outputs
//
//   - *Request: The validated request.
//   - error: ErrRequestTooLarge, or ErrInvalidRequest wrapping the parse or
//     validation failure.
func DecodeRequest(rd io.Reader) (*Request, error) {
	data, err := io.ReadAll(io.LimitReader(rd, MaxRequestSize+1))
	if err != nil {
		return nil, fmt.Errorf("read edit request: %w", err)
	}
	if len(data) > MaxRequestSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrRequestTooLarge, MaxRequestSize)
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

var (
	validateOnce sync.Once
	validateInst *validator.Validate
)

// validate returns the shared validator, reporting fields by their JSON names.
func validate() *validator.Validate {
	validateOnce.Do(func() {
		validateInst = validator.New(validator.WithRequiredStructEnabled())
		validateInst.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validateInst
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "Request.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
