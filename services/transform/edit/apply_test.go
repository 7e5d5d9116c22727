// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package edit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Checksum Tests
// =============================================================================

func TestDigest(t *testing.T) {
	t.Run("empty content has the BLAKE3 empty digest", func(t *testing.T) {
		assert.Equal(t,
			Checksum("af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"),
			Digest(""))
	})

	t.Run("deterministic and lowercase hex", func(t *testing.T) {
		a := Digest("Hello, world!")
		b := Digest("Hello, world!")
		assert.Equal(t, a, b)
		assert.Len(t, a.String(), ChecksumLen)
		assert.Regexp(t, "^[0-9a-f]+$", a.String())
	})

	t.Run("bytes and string agree", func(t *testing.T) {
		assert.Equal(t, Digest("abc"), DigestBytes([]byte("abc")))
	})

	t.Run("different content differs", func(t *testing.T) {
		assert.NotEqual(t, Digest("Hello, world!"), Digest("Hello, world?"))
	})

	t.Run("short form", func(t *testing.T) {
		assert.Len(t, Digest("x").Short(), 12)
		assert.Equal(t, "abc", Checksum("abc").Short())
	})
}

func TestVerify(t *testing.T) {
	content := "Hello, world!"

	require.NoError(t, Verify(content, Digest(content)))

	err := Verify(content, Digest("other"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))

	var mismatch *ChecksumMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, Digest("other"), mismatch.Expected)
	assert.Equal(t, Digest(content), mismatch.Actual)
	assert.Contains(t, err.Error(), string(mismatch.Expected))
}

// =============================================================================
// Span Tests
// =============================================================================

func TestValidateSpan(t *testing.T) {
	tests := []struct {
		name    string
		span    Span
		length  int
		wantErr error
	}{
		{"valid", Span{0, 5}, 10, nil},
		{"whole content", Span{0, 10}, 10, nil},
		{"empty", Span{3, 3}, 10, ErrInvalidSpan},
		{"inverted", Span{5, 3}, 10, ErrInvalidSpan},
		{"end past length", Span{5, 11}, 10, ErrOutOfBounds},
		{"start past length", Span{11, 12}, 10, ErrOutOfBounds},
		{"negative start", Span{-1, 2}, 10, ErrOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSpan(tt.span, tt.length)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var spanErr *SpanError
			require.ErrorAs(t, err, &spanErr)
			assert.Equal(t, tt.span, spanErr.Span)
			assert.Equal(t, tt.length, spanErr.ContentLen)
			assert.NotEmpty(t, spanErr.Suggestion)
		})
	}
}

// =============================================================================
// Apply Tests
// =============================================================================

func TestApply_HelloWorld(t *testing.T) {
	content := "Hello, world!"
	k0 := Digest(content)

	applied, err := Apply(content, Edit{
		Span:             Span{Start: 7, End: 12},
		Replacement:      "Rust",
		ExpectedChecksum: k0,
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello, Rust!", applied.Content)
	assert.Equal(t, int64(-1), applied.ByteShift)
	assert.NotEqual(t, k0, applied.Checksum)
	assert.Equal(t, Digest(applied.Content), applied.Checksum)
}

func TestApply_ByteShift(t *testing.T) {
	content := "abcdef"
	k := Digest(content)

	tests := []struct {
		name        string
		span        Span
		replacement string
		want        string
		shift       int64
	}{
		{"grow", Span{1, 2}, "XYZ", "aXYZcdef", 2},
		{"shrink", Span{1, 5}, "-", "a-f", -3},
		{"same length", Span{0, 3}, "ABC", "ABCdef", 0},
		{"delete", Span{2, 4}, "", "abef", -2},
		{"at end", Span{5, 6}, "F!", "abcdeF!", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, err := Apply(content, Edit{Span: tt.span, Replacement: tt.replacement, ExpectedChecksum: k})
			require.NoError(t, err)
			assert.Equal(t, tt.want, applied.Content)
			assert.Equal(t, tt.shift, applied.ByteShift)
			assert.Equal(t, int64(len(applied.Content)-len(content)), applied.ByteShift)
		})
	}
}

func TestApply_ChecksumMismatch(t *testing.T) {
	content := "Hello, world!"
	stale := Digest("Hello, there!")

	applied, err := Apply(content, Edit{Span: Span{7, 12}, Replacement: "Rust", ExpectedChecksum: stale})
	assert.Nil(t, applied)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	var mismatch *ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, stale, mismatch.Expected)
	assert.Equal(t, Digest(content), mismatch.Actual)
}

func TestApply_ChecksumCheckedBeforeSpan(t *testing.T) {
	_, err := Apply("abc", Edit{Span: Span{2, 1}, ExpectedChecksum: Digest("xyz")})
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestApply_InvalidSpans(t *testing.T) {
	content := "Hello, world!"
	k := Digest(content)

	t.Run("end before start", func(t *testing.T) {
		_, err := Apply(content, Edit{Span: Span{5, 2}, ExpectedChecksum: k})
		assert.ErrorIs(t, err, ErrInvalidSpan)
	})

	t.Run("empty span", func(t *testing.T) {
		_, err := Apply(content, Edit{Span: Span{5, 5}, Replacement: "x", ExpectedChecksum: k})
		assert.ErrorIs(t, err, ErrInvalidSpan)
	})

	t.Run("out of bounds", func(t *testing.T) {
		_, err := Apply(content, Edit{Span: Span{5, 100}, ExpectedChecksum: k})
		assert.ErrorIs(t, err, ErrOutOfBounds)
	})
}

func TestApply_UTF8Boundaries(t *testing.T) {
	// "é" occupies bytes 1..3.
	content := "héllo"
	k := Digest(content)

	t.Run("start inside codepoint", func(t *testing.T) {
		_, err := Apply(content, Edit{Span: Span{2, 4}, Replacement: "x", ExpectedChecksum: k})
		require.ErrorIs(t, err, ErrSplitCodepoint)
		assert.ErrorIs(t, err, ErrInvalidSpan)
	})

	t.Run("end inside codepoint", func(t *testing.T) {
		_, err := Apply(content, Edit{Span: Span{0, 2}, Replacement: "x", ExpectedChecksum: k})
		assert.ErrorIs(t, err, ErrSplitCodepoint)
	})

	t.Run("whole codepoint", func(t *testing.T) {
		applied, err := Apply(content, Edit{Span: Span{1, 3}, Replacement: "e", ExpectedChecksum: k})
		require.NoError(t, err)
		assert.Equal(t, "hello", applied.Content)
		assert.Equal(t, int64(-1), applied.ByteShift)
	})

	t.Run("multi-byte replacement", func(t *testing.T) {
		applied, err := Apply(content, Edit{Span: Span{0, 1}, Replacement: "日本", ExpectedChecksum: k})
		require.NoError(t, err)
		assert.Equal(t, "日本éllo", applied.Content)
		assert.Equal(t, int64(5), applied.ByteShift)
	})
}

func TestApply_InvalidReplacement(t *testing.T) {
	content := "abc"
	_, err := Apply(content, Edit{
		Span:             Span{0, 1},
		Replacement:      "ok\xffno",
		ExpectedChecksum: Digest(content),
	})
	require.ErrorIs(t, err, ErrInvalidReplacement)

	var replErr *ReplacementError
	require.ErrorAs(t, err, &replErr)
	assert.Equal(t, 2, replErr.Offset)
}

// =============================================================================
// Sequence Tests
// =============================================================================

func TestSequence(t *testing.T) {
	t.Run("descending by start", func(t *testing.T) {
		in := []Edit{
			{Span: Span{4, 9}},
			{Span: Span{35, 39}},
			{Span: Span{20, 25}},
		}
		out := Sequence(in)
		require.Len(t, out, 3)
		assert.Equal(t, 35, out[0].Span.Start)
		assert.Equal(t, 20, out[1].Span.Start)
		assert.Equal(t, 4, out[2].Span.Start)

		// Input untouched.
		assert.Equal(t, 4, in[0].Span.Start)
	})

	t.Run("ties keep input order", func(t *testing.T) {
		in := []Edit{
			{Span: Span{5, 6}, Replacement: "first"},
			{Span: Span{9, 10}, Replacement: "high"},
			{Span: Span{5, 8}, Replacement: "second"},
		}
		out := Sequence(in)
		assert.Equal(t, "high", out[0].Replacement)
		assert.Equal(t, "first", out[1].Replacement)
		assert.Equal(t, "second", out[2].Replacement)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Sequence(nil))
	})
}
