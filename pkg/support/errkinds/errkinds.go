// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package errkinds defines the kinds of errors returned by the image-to-graph conversion
// and the graph model.
//
// Errors returned by sonograph packages wrap one of these sentinels, so callers can use
// errors.Is to classify a failure:
//
//	result, err := c.Classify(ctx, img, rng)
//	if errors.Is(err, errkinds.ErrInvalidImage) {
//		...
//	}
package errkinds

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidImage is returned when an image can't be decoded or segments into no regions.
	ErrInvalidImage = errors.New("invalid image")

	// ErrDimensionMismatch is returned when a feature matrix, adjacency or weight has an unexpected shape.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidConfiguration is returned for parameters that can't produce a valid computation,
	// like a pooling ratio that keeps no nodes.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInferenceFailure is returned when the model output contains non-finite values,
	// or the numeric computation failed unexpectedly.
	ErrInferenceFailure = errors.New("inference failure")
)

// Kinds lists all error kinds, in a fixed order.
var Kinds = []error{ErrInvalidImage, ErrDimensionMismatch, ErrInvalidConfiguration, ErrInferenceFailure}

// KindOf returns the kind of err, or nil if err doesn't wrap any of the known kinds.
func KindOf(err error) error {
	for _, kind := range Kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Name returns a short snake-case name for the kind of err, used as a metric label.
// It returns "unknown" for errors that don't wrap a known kind.
func Name(err error) string {
	switch KindOf(err) {
	case ErrInvalidImage:
		return "invalid_image"
	case ErrDimensionMismatch:
		return "dimension_mismatch"
	case ErrInvalidConfiguration:
		return "invalid_configuration"
	case ErrInferenceFailure:
		return "inference_failure"
	default:
		return "unknown"
	}
}
