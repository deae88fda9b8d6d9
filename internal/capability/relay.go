package capability

import (
	"context"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	qerrors "qnc/internal/errors"
	"qnc/internal/metrics"
	"qnc/internal/session"
	"qnc/util"
)

// Relay copies data in both directions between the stream and the
// session's stdin/stdout.
type Relay struct {
	Metrics *metrics.Collector // optional
}

// Handle runs both copy directions concurrently and returns once both
// have finished.  Stdin EOF finishes the transmit half while the
// receive half keeps draining.  If either direction fails, or ctx is
// cancelled, both halves are aborted and the relay fails with
// [qerrors.ErrRelayIO].
func (r *Relay) Handle(ctx context.Context, sess *session.Session) (Summary, error) {
	stream := sess.Stream

	var (
		once    sync.Once
		aborted = make(chan struct{})
		failed  string // direction that failed first
	)
	abort := func(direction string) {
		once.Do(func() {
			failed = direction
			close(aborted)
			stream.Abort()
		})
	}
	stop := context.AfterFunc(ctx, func() { abort("interrupted") })
	defer stop()

	var (
		sum              Summary
		sendErr, recvErr error
		g                errgroup.Group
	)
	g.Go(func() error {
		stdin := util.NewInterruptibleReader(sess.Stdin, aborted)
		dst := &meter{w: stream.Transmit, record: r.Metrics.BytesSent}
		n, err := util.CopyPooled(dst, stdin)
		sum.BytesTransmitted = n
		if err == nil {
			err = stream.Transmit.Close()
		}
		if err != nil {
			sendErr = err
			abort("send")
			return err
		}
		sess.Logger.Verbose("stdin finished after %d bytes", sum.BytesTransmitted)
		return nil
	})
	g.Go(func() error {
		dst := &meter{w: sess.Stdout, record: r.Metrics.BytesReceived}
		n, err := util.CopyPooled(dst, stream.Receive)
		sum.BytesReceived = n
		if err != nil {
			recvErr = err
			abort("receive")
			return err
		}
		sess.Logger.Verbose("remote finished after %d bytes", sum.BytesReceived)
		return nil
	})

	if err := g.Wait(); err != nil {
		// report the direction that failed first, not the one that
		// was unblocked by the abort
		switch failed {
		case "send":
			err = sendErr
		case "receive":
			err = recvErr
		default:
			err = context.Cause(ctx)
		}
		rerr := &qerrors.RelayError{
			Direction:   failed,
			Transmitted: sum.BytesTransmitted,
			Received:    sum.BytesReceived,
			Err:         err,
		}
		sess.Logger.With("errClass", qerrors.Class(rerr)).Debug("relay aborted: %v", err)
		return sum, rerr
	}

	sess.Logger.Info("relay finished: %d bytes sent, %d bytes received",
		sum.BytesTransmitted, sum.BytesReceived)
	return sum, nil
}

// meter forwards writes and reports each written chunk.
type meter struct {
	w      io.Writer
	record func(int64)
}

func (m *meter) Write(p []byte) (int, error) {
	n, err := m.w.Write(p)
	m.record(int64(n))
	return n, err
}
