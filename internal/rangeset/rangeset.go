// Package rangeset maintains a sorted, disjoint set of chunk-index ranges:
// the "have" bitmap a channel advertises via HAVE records and the content
// store's own completion map. It is grounded on the daemon's
// ChunkRangeCompressor (daemon/transport/control_stream.go), generalized
// from a one-shot string compressor into a mutable set that the engine
// updates chunk-by-chunk as DATA records arrive.
package rangeset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/quantarax/swarmd/internal/wire"
)

// Set is a sorted, non-overlapping, non-adjacent collection of
// wire.Range intervals. The zero value is an empty set.
type Set struct {
	ranges []wire.Range
}

// New returns an empty set.
func New() *Set { return &Set{} }

// FromRanges builds a set from arbitrary (possibly overlapping) ranges.
func FromRanges(rs ...wire.Range) *Set {
	s := New()
	for _, r := range rs {
		s.Add(r)
	}
	return s
}

// Ranges returns the set's ranges in ascending order. The caller must not
// mutate the returned slice.
func (s *Set) Ranges() []wire.Range { return s.ranges }

// Empty reports whether the set has no chunks.
func (s *Set) Empty() bool { return len(s.ranges) == 0 }

// Count returns the total number of chunk indices covered.
func (s *Set) Count() uint32 {
	var n uint32
	for _, r := range s.ranges {
		n += r.Len()
	}
	return n
}

// Contains reports whether chunk index c is in the set.
func (s *Set) Contains(c uint32) bool {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].End >= c })
	return i < len(s.ranges) && s.ranges[i].Start <= c
}

// Add inserts a range, merging it with any overlapping or adjacent
// existing ranges.
func (s *Set) Add(r wire.Range) {
	if r.Start > r.End {
		return
	}
	out := make([]wire.Range, 0, len(s.ranges)+1)
	inserted := false
	for _, cur := range s.ranges {
		switch {
		case !inserted && canMerge(cur, r):
			r = merge(cur, r)
		case !inserted && cur.Start > r.End+1:
			out = append(out, r)
			inserted = true
			out = append(out, cur)
		default:
			out = append(out, cur)
		}
	}
	if !inserted {
		out = append(out, r)
	}
	s.ranges = coalesce(out)
}

func canMerge(a, b wire.Range) bool {
	return !(a.End+1 < b.Start || b.End+1 < a.Start)
}

func merge(a, b wire.Range) wire.Range {
	r := a
	if b.Start < r.Start {
		r.Start = b.Start
	}
	if b.End > r.End {
		r.End = b.End
	}
	return r
}

// coalesce re-sorts and merges any ranges left touching or overlapping by
// the single insertion pass above.
func coalesce(rs []wire.Range) []wire.Range {
	if len(rs) < 2 {
		return rs
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Start < rs[j].Start })
	out := rs[:1]
	for _, r := range rs[1:] {
		last := &out[len(out)-1]
		if canMerge(*last, r) {
			*last = merge(*last, r)
			continue
		}
		out = append(out, r)
	}
	return out
}

// Remove deletes a range from the set, splitting any range it partially
// overlaps.
func (s *Set) Remove(r wire.Range) {
	if r.Start > r.End || len(s.ranges) == 0 {
		return
	}
	out := make([]wire.Range, 0, len(s.ranges)+1)
	for _, cur := range s.ranges {
		if cur.End < r.Start || cur.Start > r.End {
			out = append(out, cur)
			continue
		}
		if cur.Start < r.Start {
			out = append(out, wire.Range{Start: cur.Start, End: r.Start - 1})
		}
		if cur.End > r.End {
			out = append(out, wire.Range{Start: r.End + 1, End: cur.End})
		}
	}
	s.ranges = out
}

// Intersect returns the chunks present in both s and other.
func (s *Set) Intersect(other *Set) *Set {
	out := New()
	i, j := 0, 0
	for i < len(s.ranges) && j < len(other.ranges) {
		a, b := s.ranges[i], other.ranges[j]
		lo := maxU32(a.Start, b.Start)
		hi := minU32(a.End, b.End)
		if lo <= hi {
			out.Add(wire.Range{Start: lo, End: hi})
		}
		if a.End < b.End {
			i++
		} else {
			j++
		}
	}
	return out
}

// Missing returns the chunks in [0,total-1] not present in s, used to
// compute what to REQUEST against a peer's advertised HAVE set.
func (s *Set) Missing(total uint32) *Set {
	if total == 0 {
		return New()
	}
	full := FromRanges(wire.Range{Start: 0, End: total - 1})
	for _, r := range s.ranges {
		full.Remove(r)
	}
	return full
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// String renders the set in compressed "a-b,c,d-e" notation, the form
// used by the control plane's MOREINFO and stats output.
func (s *Set) String() string {
	if len(s.ranges) == 0 {
		return ""
	}
	parts := make([]string, len(s.ranges))
	for i, r := range s.ranges {
		if r.Start == r.End {
			parts[i] = strconv.FormatUint(uint64(r.Start), 10)
		} else {
			parts[i] = fmt.Sprintf("%d-%d", r.Start, r.End)
		}
	}
	return strings.Join(parts, ",")
}

// Parse decompresses a set previously rendered with String.
func Parse(str string) (*Set, error) {
	s := New()
	if str == "" {
		return s, nil
	}
	for _, part := range strings.Split(str, ",") {
		bounds := strings.SplitN(part, "-", 2)
		start, err := strconv.ParseUint(bounds[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("rangeset: invalid range %q: %w", part, err)
		}
		end := start
		if len(bounds) == 2 {
			end, err = strconv.ParseUint(bounds[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("rangeset: invalid range %q: %w", part, err)
			}
		}
		s.Add(wire.Range{Start: uint32(start), End: uint32(end)})
	}
	return s, nil
}
