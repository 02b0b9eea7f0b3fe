package scanner

import (
	"context"
	"crypto/sha1"
	"fmt"
	"hash"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/praetorian-inc/augur/pkg/types"
)

// regexHit is a regex atom match found in a ScanReader window.
type regexHit struct {
	slot   int
	offset int64
}

// windowRecorder keeps regex hits that start before limit. Hits at or past
// limit are found again by the next window.
type windowRecorder struct {
	limit int64
	hits  []regexHit
}

func (w *windowRecorder) Add(slot int, offset int64) {
	if offset < w.limit {
		w.hits = append(w.hits, regexHit{slot: slot, offset: offset})
	}
}

// ScanReader scans r in chunks. Literal atoms are matched exactly across
// chunk edges. Regex atoms are matched on windows that overlap by
// RegexOverlap bytes, so a regex match longer than the overlap can be
// missed. The result's BlobID is set only when the input size is known in
// advance (bytes.Reader, strings.Reader, regular files).
func (r *Rules) ScanReader(ctx context.Context, rd io.Reader) (res *types.ScanResult, err error) {
	start := time.Now()
	var total int64
	defer func() {
		matched := 0
		if res != nil {
			matched = len(res.Matches)
		}
		r.metrics.recordScan(ctx, "stream", total, matched, start, err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ac, err := r.automaton()
	if err != nil {
		return nil, err
	}

	size, sized := readerSize(rd)
	if sized {
		if err := r.checkSize(size); err != nil {
			return nil, err
		}
	}
	var h hash.Hash
	if sized {
		h = sha1.New()
		h.Write([]byte("blob " + strconv.FormatInt(size, 10) + "\x00"))
	}

	stream := ac.NewStream(r.scanOptions())
	regex := len(r.store.RegexSlots()) > 0
	var (
		window     []byte // regex bytes not yet committed
		windowBase int64  // stream offset of window[0]
		rec        windowRecorder
	)

	chunk := make([]byte, r.cfg.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, readErr := rd.Read(chunk)
		if n > 0 {
			total += int64(n)
			if err := r.checkSize(total); err != nil {
				return nil, err
			}
			if h != nil {
				h.Write(chunk[:n])
			}
			if err := stream.Write(chunk[:n]); err != nil {
				return nil, err
			}
			if regex {
				window = append(window, chunk[:n]...)
				if len(window) >= r.cfg.chunkSize+r.cfg.regexOverlap {
					commit := len(window) - r.cfg.regexOverlap
					rec.limit = windowBase + int64(commit)
					if err := r.regex.Match(window, windowBase, &rec); err != nil {
						return nil, err
					}
					window = append(window[:0], window[commit:]...)
					windowBase += int64(commit)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("reading input: %w", readErr)
		}
	}

	if regex && len(window) > 0 {
		rec.limit = windowBase + int64(len(window))
		if err := r.regex.Match(window, windowBase, &rec); err != nil {
			return nil, err
		}
	}

	ev, err := stream.Close()
	if err != nil {
		return nil, err
	}
	if len(rec.hits) > 0 {
		for _, hit := range rec.hits {
			ev.Add(hit.slot, hit.offset)
		}
		ev.Seal()
		if err := r.checkMatches(ev); err != nil {
			return nil, err
		}
	}

	var blobID types.BlobID
	if h != nil && total == size {
		h.Sum(blobID[:0])
	}
	return r.evaluate(blobID, total, ev)
}

// readerSize reports the number of bytes rd will yield, when it can be
// known without reading.
func readerSize(rd io.Reader) (int64, bool) {
	switch v := rd.(type) {
	case interface{ Len() int }:
		return int64(v.Len()), true
	case *os.File:
		info, err := v.Stat()
		if err != nil || !info.Mode().IsRegular() {
			return 0, false
		}
		pos, err := v.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, false
		}
		return info.Size() - pos, true
	default:
		return 0, false
	}
}
