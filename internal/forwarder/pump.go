package forwarder

import (
	"context"
	"io"
	"time"
)

// chunkPump reads from an upstream body and applies the two-stage timeout
// of §4.5.2d: stream_first_byte_timeout until the first chunk arrives, then
// stream_idle_timeout for every subsequent gap. Reads happen on a
// background goroutine so a slow/stalled upstream can be timed out without
// blocking on the underlying io.Reader, which has no deadline of its own
// once a reverse-proxy style body is in play.
type chunkPump struct {
	body          io.Reader
	firstByteTout time.Duration
	idleTout      time.Duration
	gotFirstByte  bool
}

type readResult struct {
	n   int
	err error
}

const pumpBufSize = 32 * 1024

func newChunkPump(body io.Reader, firstByteTimeout, idleTimeout time.Duration) *chunkPump {
	return &chunkPump{
		body:          body,
		firstByteTout: firstByteTimeout,
		idleTout:      idleTimeout,
	}
}

// next blocks until a chunk is available, the upstream reaches EOF, a
// timeout fires, or ctx is cancelled (client disconnect). It returns the
// bytes read (may be non-empty even alongside a non-nil err, mirroring
// io.Reader semantics), done=true on clean EOF, and a non-nil err on
// timeout/transport failure/cancellation.
func (p *chunkPump) next(ctx context.Context) ([]byte, bool, error) {
	buf := make([]byte, pumpBufSize)

	resultCh := make(chan readResult, 1)
	go func() {
		n, err := p.body.Read(buf)
		resultCh <- readResult{n: n, err: err}
	}()

	timeout := p.idleTout
	firstByte := !p.gotFirstByte
	if firstByte {
		timeout = p.firstByteTout
	}

	select {
	case res := <-resultCh:
		if res.n > 0 {
			p.gotFirstByte = true
		}
		if res.err != nil {
			if res.err == io.EOF {
				return buf[:res.n], true, nil
			}
			return buf[:res.n], false, res.err
		}
		return buf[:res.n], false, nil
	case <-time.After(timeout):
		return nil, false, &chunkTimeoutError{firstByte: firstByte}
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
