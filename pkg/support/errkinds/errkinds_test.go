// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package errkinds

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := errors.Wrapf(ErrDimensionMismatch, "features have %d columns, weights expect %d", 3, 4)
	assert.Equal(t, ErrDimensionMismatch, KindOf(err))
	assert.Equal(t, "dimension_mismatch", Name(err))

	// Wrapped twice, with the standard library.
	err = fmt.Errorf("classifying %q: %w", "scan.png", errors.WithMessage(ErrInvalidImage, "no regions"))
	assert.Equal(t, ErrInvalidImage, KindOf(err))
	assert.Equal(t, "invalid_image", Name(err))

	assert.Nil(t, KindOf(errors.New("something else")))
	assert.Equal(t, "unknown", Name(errors.New("something else")))
}
