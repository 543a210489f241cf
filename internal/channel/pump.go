package channel

import (
	"io"
	"sync"
)

// pump drains a blocking reader in the background so TryReceive can poll
// without ever blocking the caller.
type pump struct {
	mu     sync.Mutex
	chunks []string
	err    error
	done   chan struct{}
}

func newPump(r io.Reader) *pump {
	p := &pump{done: make(chan struct{})}
	go p.run(r)
	return p
}

func (p *pump) run(r io.Reader) {
	defer close(p.done)

	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.chunks = append(p.chunks, string(buf[:n]))
			p.mu.Unlock()
		}
		if err != nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			return
		}
	}
}

// next pops the oldest chunk. Data read before a failure is still delivered;
// the failure surfaces only once the queue is empty.
func (p *pump) next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.chunks) > 0 {
		chunk := p.chunks[0]
		p.chunks = p.chunks[1:]
		return chunk, nil
	}
	if p.err != nil {
		return "", p.err
	}
	return "", ErrNoData
}
