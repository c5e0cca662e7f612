package cli

import (
	"io"
	"sync"

	"golang.org/x/term"
)

const (
	keyEscape = 27
	keyCtrlC  = 3
)

// A KeyStop watches a terminal for q, ESC or ctrl-c while a capture runs. Input that arrives
// after the stop key, or after Close, is passed on through Reader.
type KeyStop struct {
	done     chan struct{}
	doneOnce sync.Once
	restore  func() error

	mu     sync.Mutex
	closed bool
	pr     *io.PipeReader
	pw     *io.PipeWriter
	reader io.Reader
}

type fdReader interface {
	io.Reader
	Fd() uintptr
}

// StopOnKey puts in into raw mode when it is a terminal and watches it for a stop key. Other
// inputs are never read and never stop the capture.
func StopOnKey(in io.Reader) (*KeyStop, error) {
	f, ok := in.(fdReader)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return &KeyStop{done: make(chan struct{}), reader: in}, nil
	}
	fd := int(f.Fd())
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	ks := newKeyStop(in)
	ks.restore = func() error { return term.Restore(fd, old) }
	return ks, nil
}

func newKeyStop(in io.Reader) *KeyStop {
	pr, pw := io.Pipe()
	ks := &KeyStop{done: make(chan struct{}), pr: pr, pw: pw, reader: pr}
	go ks.watch(in)
	return ks
}

func (ks *KeyStop) watch(in io.Reader) {
	buf := make([]byte, 1)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if ks.passThrough() {
				if _, werr := ks.pw.Write(buf[:n]); werr != nil {
					return
				}
			} else if isStopKey(buf[0]) {
				ks.stop()
			}
		}
		if err != nil {
			ks.pw.CloseWithError(err)
			return
		}
	}
}

func isStopKey(b byte) bool {
	return b == 'q' || b == 'Q' || b == keyEscape || b == keyCtrlC
}

func (ks *KeyStop) passThrough() bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return true
	}
	select {
	case <-ks.done:
		return true
	default:
		return false
	}
}

func (ks *KeyStop) stop() {
	ks.doneOnce.Do(func() { close(ks.done) })
}

// Done is closed once a stop key is pressed.
func (ks *KeyStop) Done() <-chan struct{} {
	return ks.done
}

// Reader returns the input not consumed by the watcher.
func (ks *KeyStop) Reader() io.Reader {
	return ks.reader
}

// Close restores the terminal mode. It does not close Done.
func (ks *KeyStop) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return nil
	}
	ks.closed = true
	if ks.restore != nil {
		return ks.restore()
	}
	return nil
}
