package chunker

import "strings"

// DefaultSeparators are tried in order: paragraph, line, sentence, clause,
// word. The empty separator means a raw character boundary.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " ", ""}

// Segment is a contiguous slice of the split input.
type Segment struct {
	Text   string
	Start  int // byte offset, inclusive
	End    int // byte offset, exclusive
	Tokens int
}

// piece is a byte range with its token cost.
type piece struct {
	start, end int
	tokens     int
}

// Splitter cuts text into overlapping segments of at most size tokens.
// Consecutive segments share an exact suffix/prefix of at most overlap tokens.
type Splitter struct {
	size       int
	overlap    int
	counter    Counter
	separators []string
}

// NewSplitter validates the sizing and returns a Splitter.
func NewSplitter(size, overlap int, counter Counter, separators []string) (*Splitter, error) {
	if err := validateSizing(size, overlap); err != nil {
		return nil, err
	}
	if counter == nil {
		counter = HeuristicCounter{}
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return &Splitter{size: size, overlap: overlap, counter: counter, separators: separators}, nil
}

// Split returns the segments covering text. Blank text yields none; text
// within size yields exactly one.
func (s *Splitter) Split(text string) []Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if n := s.counter.Count(text); n <= s.size {
		return []Segment{{Text: text, Start: 0, End: len(text), Tokens: n}}
	}

	// Atoms leave room for a full overlap in front of them, so every
	// segment can carry its predecessor's tail and still add new text.
	atoms := s.atomize(text, 0, len(text), s.separators, s.size-s.overlap, nil)

	var (
		segs []Segment
		tail []piece
		used int
	)
	for i := 0; i < len(atoms); {
		cur := append([]piece(nil), tail...)
		total := used
		added := 0
		for i < len(atoms) && (added == 0 || total+atoms[i].tokens <= s.size) {
			cur = append(cur, atoms[i])
			total += atoms[i].tokens
			i++
			added++
		}
		start, end := cur[0].start, cur[len(cur)-1].end
		segs = append(segs, Segment{Text: text[start:end], Start: start, End: end, Tokens: total})
		if i < len(atoms) {
			tail, used = s.takeTail(text, cur, s.overlap, 0)
		}
	}
	return segs
}

// atomize splits text[start:end] on the highest-priority separator present,
// recursing into finer separators until every piece fits limit.
func (s *Splitter) atomize(text string, start, end int, seps []string, limit int, out []piece) []piece {
	frag := text[start:end]
	if n := s.counter.Count(frag); n <= limit {
		return append(out, piece{start: start, end: end, tokens: n})
	}

	k := 0
	for k < len(seps) && seps[k] != "" && !strings.Contains(frag, seps[k]) {
		k++
	}
	if k == len(seps) || seps[k] == "" {
		return s.splitRunes(text, start, end, limit, out)
	}

	pos := start
	for _, p := range splitKeep(frag, seps[k]) {
		out = s.atomize(text, pos, pos+len(p), seps[k+1:], limit, out)
		pos += len(p)
	}
	return out
}

// splitRunes cuts text[start:end] at character boundaries into the longest
// runs that fit limit.
func (s *Splitter) splitRunes(text string, start, end, limit int, out []piece) []piece {
	offs := runeOffsets(text[start:end])
	for a := 0; a < len(offs)-1; {
		best := a + 1
		lo, hi := a+2, len(offs)-1
		for lo <= hi {
			mid := (lo + hi) / 2
			if s.counter.Count(text[start+offs[a]:start+offs[mid]]) <= limit {
				best = mid
				lo = mid + 1
			} else {
				hi = mid - 1
			}
		}
		ps, pe := start+offs[a], start+offs[best]
		out = append(out, piece{start: ps, end: pe, tokens: s.counter.Count(text[ps:pe])})
		a = best
	}
	return out
}

// takeTail collects the longest run of trailing pieces costing at most
// budget tokens. The first piece that does not fit is refined to words, then
// to characters, so the tail is empty only when budget is zero.
func (s *Splitter) takeTail(text string, pieces []piece, budget, level int) ([]piece, int) {
	var (
		out  []piece
		used int
	)
	for k := len(pieces) - 1; k >= 0; k-- {
		p := pieces[k]
		if used+p.tokens <= budget {
			out = append([]piece{p}, out...)
			used += p.tokens
			continue
		}
		if level < 2 {
			more, n := s.takeTail(text, s.refine(text, p, level), budget-used, level+1)
			out = append(more, out...)
			used += n
		}
		break
	}
	return out, used
}

func (s *Splitter) refine(text string, p piece, level int) []piece {
	var out []piece
	pos := p.start
	if level == 0 {
		for _, w := range splitKeep(text[p.start:p.end], " ") {
			out = append(out, piece{start: pos, end: pos + len(w), tokens: s.counter.Count(w)})
			pos += len(w)
		}
		return out
	}
	for _, r := range text[p.start:p.end] {
		n := len(string(r))
		out = append(out, piece{start: pos, end: pos + n, tokens: s.counter.Count(string(r))})
		pos += n
	}
	return out
}

// splitKeep splits s after every sep, keeping sep on the left piece so the
// pieces concatenate back to s. Empty pieces are dropped.
func splitKeep(s, sep string) []string {
	parts := strings.SplitAfter(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeOffsets(s string) []int {
	offs := make([]int, 0, len(s)+1)
	for i := range s {
		offs = append(offs, i)
	}
	return append(offs, len(s))
}
