package input

import "bytes"

// SplitLines consumes data that starts at file offset and returns the complete
// newline-terminated lines it contains, the offset just past the last newline,
// and the unterminated remainder to carry into the next read.
//
// Line terminators (\n and a preceding \r) are stripped. Empty lines are
// returned as empty strings so offsets stay accountable; callers skip them.
func SplitLines(offset int64, data []byte) (lines []string, newOffset int64, rest []byte) {
	consumed := 0
	for {
		idx := bytes.IndexByte(data[consumed:], '\n')
		if idx < 0 {
			break
		}
		line := data[consumed : consumed+idx]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		lines = append(lines, string(line))
		consumed += idx + 1
	}

	if consumed < len(data) {
		rest = append([]byte(nil), data[consumed:]...)
	}
	return lines, offset + int64(consumed), rest
}
