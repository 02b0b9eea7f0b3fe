package automaton

import (
	"cmp"
	"slices"

	"github.com/praetorian-inc/augur/pkg/atom"
	"github.com/praetorian-inc/augur/pkg/types"
)

// hit is one terminal match; end is the offset of its last byte.
type hit struct {
	slot       int32
	start, end int64
}

// Stream scans input delivered in chunks. Automaton state, offsets and the
// bytes needed for fullword checks carry across Write calls, so matches that
// span chunk boundaries are found. A Stream is not safe for concurrent use.
type Stream struct {
	a    *Automaton
	opts ScanOptions
	ev   *types.MatchEvidence

	exactState int32
	foldState  int32
	offset     int64  // stream offset of the next byte
	tail       []byte // trailing bytes of earlier chunks
	keep       int

	pending []hit // fullword hits ending on the last byte seen
	hits    []hit // collected hits in ReportMaximal mode
	count   int
	err     error
	closed  bool
}

// NewStream starts a streaming scan.
func (a *Automaton) NewStream(opts ScanOptions) *Stream {
	return &Stream{
		a:    a,
		opts: opts,
		ev:   a.store.NewEvidence(),
		keep: a.store.MaxLiteralLen(),
	}
}

// Offset returns the number of bytes written so far.
func (s *Stream) Offset() int64 {
	return s.offset
}

// Write scans the next chunk. After an error the stream is unusable and
// every later call returns the same error.
func (s *Stream) Write(p []byte) error {
	if s.err != nil {
		return s.err
	}
	if len(p) == 0 {
		return nil
	}

	if len(s.pending) > 0 {
		boundaryOK := !atom.IsWordByte(p[0])
		for _, h := range s.pending {
			if boundaryOK {
				s.record(h)
			}
		}
		s.pending = s.pending[:0]
		if s.err != nil {
			return s.err
		}
	}

	exact, folded := s.a.exact, s.a.folded
	useExact, useFolded := !exact.empty(), !folded.empty()
	es, fs := s.exactState, s.foldState

	for i, b := range p {
		if useExact {
			es = exact.step(es, b)
			if es != 0 {
				s.emit(exact, es, p, i)
			}
		}
		if useFolded {
			fs = folded.step(fs, atom.Fold(b))
			if fs != 0 {
				s.emit(folded, fs, p, i)
			}
		}
		if s.err != nil {
			return s.err
		}
	}

	s.exactState, s.foldState = es, fs
	s.remember(p)
	s.offset += int64(len(p))
	return nil
}

// emit reports the outputs of state n and of its dictionary chain for the
// byte at p[i].
func (s *Stream) emit(t *trie, n int32, p []byte, i int) {
	if len(t.nodes[n].out) == 0 {
		n = t.nodes[n].dict
	}
	for n != 0 {
		for _, slot := range t.nodes[n].out {
			s.candidate(slot, p, i)
		}
		n = t.nodes[n].dict
	}
}

// candidate checks fullword boundaries for a hit of slot ending at p[i].
func (s *Stream) candidate(slot int32, p []byte, i int) {
	end := s.offset + int64(i)
	h := hit{slot: slot, start: end - s.a.lengths[slot] + 1, end: end}

	if s.a.fullword[slot] {
		if h.start > 0 && atom.IsWordByte(s.byteAt(h.start-1, p)) {
			return
		}
		if i+1 == len(p) {
			s.pending = append(s.pending, h)
			return
		}
		if atom.IsWordByte(p[i+1]) {
			return
		}
	}
	s.record(h)
}

// byteAt returns the byte at stream offset pos, which lies in the current
// chunk or within the retained tail.
func (s *Stream) byteAt(pos int64, p []byte) byte {
	if pos >= s.offset {
		return p[pos-s.offset]
	}
	return s.tail[len(s.tail)-int(s.offset-pos)]
}

// remember keeps the last keep bytes seen for boundary checks.
func (s *Stream) remember(p []byte) {
	if s.keep == 0 {
		return
	}
	if len(p) >= s.keep {
		s.tail = append(s.tail[:0], p[len(p)-s.keep:]...)
		return
	}
	s.tail = append(s.tail, p...)
	if over := len(s.tail) - s.keep; over > 0 {
		s.tail = append(s.tail[:0], s.tail[over:]...)
	}
}

func (s *Stream) record(h hit) {
	s.count++
	if s.opts.MaxMatches > 0 && s.count > s.opts.MaxMatches {
		s.err = types.Errorf(types.ResourceExhausted, "automaton.Scan",
			"more than %d atom matches", s.opts.MaxMatches)
		return
	}
	if s.opts.Mode == ReportMaximal {
		s.hits = append(s.hits, h)
		return
	}
	s.ev.Add(int(h.slot), h.start)
}

// Close ends the stream and returns the evidence. Fullword hits pending on
// the final byte are accepted since the end of input is a boundary.
func (s *Stream) Close() (*types.MatchEvidence, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.closed {
		return s.ev, nil
	}
	s.closed = true

	for _, h := range s.pending {
		s.record(h)
	}
	s.pending = nil
	if s.err != nil {
		return nil, s.err
	}

	if s.opts.Mode == ReportMaximal {
		for _, h := range maximal(s.hits) {
			s.ev.Add(int(h.slot), h.start)
		}
		s.hits = nil
	}
	s.ev.Seal()
	return s.ev, nil
}

// maximal drops hits whose span lies strictly inside another hit's span.
// Hits with identical spans are all kept.
func maximal(hits []hit) []hit {
	slices.SortFunc(hits, func(x, y hit) int {
		if c := cmp.Compare(x.start, y.start); c != 0 {
			return c
		}
		if c := cmp.Compare(y.end, x.end); c != 0 {
			return c
		}
		return cmp.Compare(x.slot, y.slot)
	})

	out := hits[:0]
	maxEnd := int64(-1)
	for i := 0; i < len(hits); {
		j := i
		for j < len(hits) && hits[j].start == hits[i].start && hits[j].end == hits[i].end {
			j++
		}
		if end := hits[i].end; maxEnd < end {
			out = append(out, hits[i:j]...)
			maxEnd = end
		}
		i = j
	}
	return out
}
