// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Formworks Contributors

package perm

import "errors"

// ErrNotFound is returned by stores when a requested row does not exist.
// Store implementations wrap it with oops codes for context.
var ErrNotFound = errors.New("not found")

// ErrPermissionDenied is returned by service operations that gate on the
// resolver. Denials are expected outcomes, never logged as errors.
var ErrPermissionDenied = errors.New("permission denied")
