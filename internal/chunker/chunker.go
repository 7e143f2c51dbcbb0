package chunker

import (
	"iter"
	"slices"

	"docchat/internal/models"
)

// Splitter cuts text into windows of at most size characters where every
// window shares its last overlap characters with the next one.
type Splitter struct {
	size    int
	overlap int
}

// New returns a splitter for the given chunk size and overlap, both counted
// in characters (runes).
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, models.Errorf(models.ErrConfig, "chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, models.Errorf(models.ErrConfig, "chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, models.Errorf(models.ErrConfig, "chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split lazily yields the chunks of text. The returned sequence can be ranged
// over any number of times and yields nothing for empty text.
func (s *Splitter) Split(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if text == "" {
			return
		}
		runes := []rune(text)
		start := 0
		for {
			end := min(start+s.size, len(runes))
			if end < len(runes) {
				end = s.breakPoint(runes, start, end)
			}
			if !yield(string(runes[start:end])) {
				return
			}
			if end == len(runes) {
				return
			}
			start = end - s.overlap
		}
	}
}

// Chunks collects Split into a slice.
func (s *Splitter) Chunks(text string) []string {
	return slices.Collect(s.Split(text))
}

// breakers in order of preference; each reports whether a cut right before
// runes[i] lands on a boundary.
var breakers = []func(runes []rune, i int) bool{
	// paragraph
	func(r []rune, i int) bool { return i >= 2 && r[i-1] == '\n' && r[i-2] == '\n' },
	// line
	func(r []rune, i int) bool { return r[i-1] == '\n' },
	// sentence
	func(r []rune, i int) bool {
		return (r[i-1] == ' ' || r[i-1] == '\t') && i >= 2 && (r[i-2] == '.' || r[i-2] == '!' || r[i-2] == '?')
	},
	// word
	func(r []rune, i int) bool { return r[i-1] == ' ' || r[i-1] == '\t' },
}

// breakPoint moves end back to the best boundary found in the last tenth of
// the window. A chunk is never shortened to the overlap length or below,
// otherwise the next window would not advance.
func (s *Splitter) breakPoint(runes []rune, start, end int) int {
	lookBack := max(s.size/10, 1)
	lo := max(end-lookBack, start+s.overlap+1)
	for _, isBreak := range breakers {
		for i := end; i >= lo; i-- {
			if isBreak(runes, i) {
				return i
			}
		}
	}
	return end
}
