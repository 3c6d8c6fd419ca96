package dom

// Selection holds the ranges the user has selected in a document.
type Selection struct {
	ranges []*Range
}

// RangeCount returns the number of ranges in the selection.
func (s *Selection) RangeCount() int {
	return len(s.ranges)
}

// RangeAt returns the range at index, or nil when out of bounds.
func (s *Selection) RangeAt(index int) *Range {
	if index < 0 || index >= len(s.ranges) {
		return nil
	}
	return s.ranges[index]
}

// AddRange appends a copy of r.
func (s *Selection) AddRange(r *Range) {
	if r == nil {
		return
	}
	s.ranges = append(s.ranges, r.Clone())
}

// RemoveAllRanges clears the selection.
func (s *Selection) RemoveAllRanges() {
	s.ranges = nil
}

// String returns the text of the first range.
func (s *Selection) String() string {
	if len(s.ranges) == 0 {
		return ""
	}
	return s.ranges[0].String()
}

// Save snapshots the current ranges.
func (s *Selection) Save() []*Range {
	saved := make([]*Range, 0, len(s.ranges))
	for _, r := range s.ranges {
		saved = append(saved, r.Clone())
	}
	return saved
}

// Restore replaces the selection with a snapshot returned by Save.
func (s *Selection) Restore(saved []*Range) {
	s.ranges = s.ranges[:0]
	for _, r := range saved {
		s.ranges = append(s.ranges, r.Clone())
	}
}
