package logging

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// LineSequencer prefixes every complete line written to it with a monotonic
// sequence number and a timestamp. Partial lines are held until the newline arrives.
type LineSequencer struct {
	target io.Writer
	seq    atomic.Uint64
	mu     sync.Mutex
	buf    bytes.Buffer
}

func NewLineSequencer(target io.Writer) *LineSequencer {
	return &LineSequencer{target: target}
}

func (s *LineSequencer) writeLine(line []byte) error {
	prefix := slog.Uint64("line", s.seq.Add(1)).String() + " " +
		slog.String("time", time.Now().Format(time.RFC3339)).String() + " "
	if _, err := io.WriteString(s.target, prefix); err != nil {
		return err
	}
	if _, err := s.target.Write(line); err != nil {
		return err
	}
	_, err := s.target.Write([]byte{'\n'})
	return err
}

// Write implements io.Writer. The returned count is len(p) on success so
// callers like slog handlers do not treat the prefix as a short write.
func (s *LineSequencer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Write(p)
	for {
		idx := bytes.IndexByte(s.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(s.buf.Next(idx + 1)[:idx], []byte{'\r'})
		if err := s.writeLine(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close flushes a trailing partial line.
func (s *LineSequencer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Len() == 0 {
		return nil
	}
	line := append([]byte(nil), s.buf.Bytes()...)
	s.buf.Reset()
	return s.writeLine(line)
}
