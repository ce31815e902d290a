package output

import (
	"bufio"
	"os"
	"strings"
)

// DefaultLogLines is the number of log lines shown when none is given.
const DefaultLogLines = 20

// TailLog returns the last n lines of the log file at path. When match is
// set only lines containing it are kept, e.g. "dispatchId=1700000000000-0".
func TailLog(path string, n int, match string) ([]string, error) {
	if n <= 0 {
		n = DefaultLogLines
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LogNotFoundError{Path: path}
		}
		return nil, err
	}
	defer file.Close()

	// ring of the last n matching lines
	ring := make([]string, n)
	count := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if match != "" && !strings.Contains(line, match) {
			continue
		}
		ring[count%n] = line
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if count <= n {
		return ring[:count], nil
	}
	start := count % n
	return append(ring[start:], ring[:start]...), nil
}

// LogNotFoundError indicates the log file does not exist yet.
type LogNotFoundError struct {
	Path string
}

func (e *LogNotFoundError) Error() string {
	return "no log file found at " + e.Path
}
