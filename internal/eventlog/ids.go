package eventlog

import (
	"fmt"
	"strconv"
	"strings"
)

// streamID is the "<millis>-<seq>" identifier of a stream entry.
type streamID struct {
	ms  int64
	seq int64
}

func (id streamID) String() string {
	return fmt.Sprintf("%d-%d", id.ms, id.seq)
}

func (id streamID) less(o streamID) bool {
	if id.ms != o.ms {
		return id.ms < o.ms
	}
	return id.seq < o.seq
}

// parseID accepts "ms-seq" and bare "ms" (sequence 0).
func parseID(s string) (streamID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return streamID{}, fmt.Errorf("invalid stream id %q", s)
	}
	var seq int64
	if hasSeq {
		seq, err = strconv.ParseInt(seqPart, 10, 64)
		if err != nil {
			return streamID{}, fmt.Errorf("invalid stream id %q", s)
		}
	}
	return streamID{ms: ms, seq: seq}, nil
}

// CompareIDs orders two stream IDs, returning -1, 0 or 1. Unparseable IDs compare
// lexically so callers never panic on foreign input.
func CompareIDs(a, b string) int {
	ia, errA := parseID(a)
	ib, errB := parseID(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	switch {
	case ia.less(ib):
		return -1
	case ib.less(ia):
		return 1
	}
	return 0
}
