package worker

import (
	"context"

	"github.com/remusmesh/broker/internal/codec"
	"github.com/remusmesh/broker/pkg/types"
)

// Conn is the peer-side half of a broker connection: push a frame in as if
// it arrived from this worker, and block for the broker's next reply. A
// memtransport.Peer satisfies this structurally; a real deployment would
// speak it over tcpsocket's wire framing instead.
type Conn interface {
	SendMessage(msg codec.Message)
	Recv(ctx context.Context) (codec.Response, bool)
}

// ProgressFunc reports an intermediate progress update for the job
// currently being processed.
type ProgressFunc func(value int, message string)

// HandleFunc does the actual mesh-generation work for one assigned job,
// given the client's original submission, reporting progress through
// report as it goes and returning the finished mesh payload. ctx is the
// context passed to Run, so a HandleFunc that respects ctx.Done() stops
// when that context is cancelled. A TERMINATE_JOB frame does not cancel
// it: Run reads the next frame only after the handler returns, and then
// returns itself.
type HandleFunc func(ctx context.Context, submission types.Submission, report ProgressFunc) []byte
