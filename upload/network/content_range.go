package network

import (
	"fmt"
	"strconv"
	"strings"
)

// statusContentRange asks the server how many of total bytes it has.
func statusContentRange(total int64) string {
	return fmt.Sprintf("bytes */%d", total)
}

// uploadContentRange tags the bytes [offset, total) of a transfer.
func uploadContentRange(offset, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", offset, total-1, total)
}

// resumeOffset reads the `Range: bytes=0-<last>` header of a 308 response and returns the
// first missing byte. A missing, malformed or out of bounds range yields 0: the payload is
// retransmitted from the start.
func resumeOffset(rangeHeader string, total int64) int64 {
	spec, found := strings.CutPrefix(strings.TrimSpace(rangeHeader), "bytes=")
	if !found {
		return 0
	}

	first, last, found := strings.Cut(spec, "-")
	if !found {
		return 0
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start != 0 {
		return 0
	}

	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < 0 || end+1 >= total {
		return 0
	}

	return end + 1
}
