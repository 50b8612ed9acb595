package agent

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"
)

// maxStderrBytes bounds the stderr text retained for error reporting.
const maxStderrBytes = 64 * 1024

// stderrGraceWait bounds how long a failed call waits for the stderr
// tail to land in the buffer before reporting.
const stderrGraceWait = 2 * time.Second

// streamLine is one line read from the child process, tagged by origin.
type streamLine struct {
	text    string
	fromErr bool
}

// streamTail is the fan-in outcome. Err is the stdout scanner's failure,
// if any. StderrDone closes once every stderr line has been delivered to
// onLine; for a child process that happens at exit.
type streamTail struct {
	Err        error
	StderrDone <-chan struct{}
}

// newLineScanner returns a scanner sized for large single-line JSON events.
func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 1024*1024)
	return sc
}

// fanInStreams reads stdout and stderr concurrently and delivers lines
// to onLine in arrival order. It returns when stdout closes; stderr
// lines still arriving after that are delivered from a background
// goroutine, so onLine must tolerate concurrent calls for fromErr lines
// until StderrDone closes. The caller must still wait for process exit
// afterwards.
func fanInStreams(stdout, stderr io.Reader, onLine func(streamLine)) *streamTail {
	lines := make(chan streamLine, 64)
	stdoutDone := make(chan error, 1)
	drained := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sc := newLineScanner(stdout)
		for sc.Scan() {
			lines <- streamLine{text: sc.Text()}
		}
		err := sc.Err()
		if err != nil {
			// Unstick a child mid-write on an oversized line so it can
			// still exit and be reaped.
			io.Copy(io.Discard, stdout)
		}
		stdoutDone <- err
	}()
	go func() {
		defer wg.Done()
		sc := newLineScanner(stderr)
		for sc.Scan() {
			lines <- streamLine{text: sc.Text(), fromErr: true}
		}
	}()
	go func() {
		wg.Wait()
		close(lines)
	}()

	tail := &streamTail{StderrDone: drained}
	for {
		select {
		case ln, ok := <-lines:
			if !ok {
				// Both scanners finished; the stdout error is already
				// queued, never lost to the closed channel.
				close(drained)
				tail.Err = <-stdoutDone
				return tail
			}
			onLine(ln)
		case err := <-stdoutDone:
			tail.Err = err
			// Every stdout line was queued before stdoutDone was sent.
			// Deliver what is buffered, then hand the stderr tail to a
			// background goroutine so the child is never left blocked
			// on a full pipe before Wait.
			for {
				select {
				case ln, ok := <-lines:
					if !ok {
						close(drained)
						return tail
					}
					onLine(ln)
				default:
					go func() {
						for ln := range lines {
							if ln.fromErr {
								onLine(ln)
							}
						}
						close(drained)
					}()
					return tail
				}
			}
		}
	}
}

// stderrBuffer accumulates stderr text up to maxStderrBytes. Safe for
// concurrent use; the stream fan-in appends from a background goroutine.
type stderrBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *stderrBuffer) Append(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.b.Len() >= maxStderrBytes {
		return
	}
	remaining := maxStderrBytes - s.b.Len()
	if len(line) > remaining {
		line = line[:remaining]
	}
	if s.b.Len() > 0 {
		s.b.WriteByte('\n')
	}
	s.b.WriteString(line)
}

func (s *stderrBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}
