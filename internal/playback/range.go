// Package playback streams engine artifacts over HTTP with byte-range
// support, so browser video elements can seek inside generated clips,
// previews and final renders.
package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is one satisfiable byte range within a file of known size.
type Range struct {
	Start int64
	End   int64
}

func (r Range) ContentLength() int64 {
	return r.End - r.Start + 1
}

func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange interprets a Range request header against a file of the given
// size. ok is false when no range was requested. Multi-range requests
// collapse to their first range; an open end runs to the end of the file.
func ParseRange(header string, size int64) (Range, bool, error) {
	if header == "" {
		return Range{}, false, nil
	}
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return Range{}, false, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(spec, ","); multi {
		spec = strings.TrimSpace(first)
	}
	startPart, endPart, dash := strings.Cut(spec, "-")
	if !dash {
		return Range{}, false, ErrInvalidRange
	}

	var rng Range
	if startPart == "" {
		// Suffix form: the last N bytes.
		n, err := strconv.ParseInt(endPart, 10, 64)
		if err != nil || n <= 0 {
			return Range{}, false, ErrInvalidRange
		}
		rng.Start = size - n
		if rng.Start < 0 {
			rng.Start = 0
		}
		rng.End = size - 1
	} else {
		start, err := strconv.ParseInt(startPart, 10, 64)
		if err != nil || start < 0 {
			return Range{}, false, ErrInvalidRange
		}
		rng.Start = start
		if endPart == "" {
			rng.End = size - 1
		} else {
			end, err := strconv.ParseInt(endPart, 10, 64)
			if err != nil {
				return Range{}, false, ErrInvalidRange
			}
			rng.End = end
		}
	}

	if rng.Start > rng.End || rng.Start >= size {
		return Range{}, false, ErrUnsatisfiable
	}
	if rng.End >= size {
		rng.End = size - 1
	}
	return rng, true, nil
}
