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
	"cmp"
	"slices"
)

// Sequence returns a copy of edits ordered by descending start offset.
//
// Applying from the end of the content backwards means no applied edit can
// shift the offsets of an edit still to come. Edits sharing a start offset
// keep their input order. Overlaps are not detected here.
func Sequence(edits []Edit) []Edit {
	ordered := slices.Clone(edits)
	slices.SortStableFunc(ordered, func(a, b Edit) int {
		return cmp.Compare(b.Span.Start, a.Span.Start)
	})
	return ordered
}
