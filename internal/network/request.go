package network

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/clamentos/blackhole/internal/logger"
	"github.com/clamentos/blackhole/internal/protocol"
	"github.com/clamentos/blackhole/internal/task"
	"github.com/clamentos/blackhole/pkg/pool"
	"github.com/clamentos/blackhole/pkg/servlet"
	"github.com/clamentos/blackhole/pkg/session"
)

const (
	statusAborted = "ABORTED"
	labelUnknown  = "UNKNOWN"
)

// RequestTask serves one frame. The frame length has been read by the
// transfer task; everything after it is read here.
type RequestTask struct {
	*task.OneShot

	transfer *TransferTask
	tctx     *TransferContext
	app      *Application
	config   *Config
	length   int64

	latch     chan struct{}
	latchOnce sync.Once

	start  time.Time
	header protocol.Header
	status string
	read   int64

	methodLabel   string
	resourceLabel string
}

func newRequestTask(transfer *TransferTask, length int64, latch chan struct{}) *RequestTask {
	r := &RequestTask{
		transfer: transfer,
		tctx:     transfer.tctx,
		app:      transfer.server.app,
		config:   &transfer.server.config,
		length:   length,
		latch:    latch,
		status:   statusAborted,

		methodLabel:   labelUnknown,
		resourceLabel: labelUnknown,
	}
	r.OneShot = task.NewOneShot(task.KindRequest, fmt.Sprintf("request-%s", transfer.tctx.remote), r, transfer.server.manager)
	return r
}

// release lets the transfer task read the next frame. The request must not
// touch the stream afterwards.
func (r *RequestTask) release() {
	r.latchOnce.Do(func() { close(r.latch) })
}

func (r *RequestTask) Initialize() error {
	r.start = time.Now()
	r.app.metrics.RecordRequestStart()
	if r.tctx.Aborted() {
		return errors.New("connection already aborted")
	}
	return nil
}

func (r *RequestTask) Work() error {
	provider := protocol.NewDataProvider(r.tctx.conn, r.length, r.config.BodyTimeout)
	defer func() {
		r.read = protocol.FramePrefixSize + provider.Consumed()
	}()

	header, err := protocol.DecodeHeader(provider, r.app.resources)
	r.header = header
	r.labelHeader(err)
	if err != nil {
		var he *protocol.HeaderError
		if errors.As(err, &he) {
			return r.reject(provider, protocol.Fail(he.Status, he.Err.Error()))
		}
		return r.readFailed(provider, err)
	}

	if r.length > r.config.MaxFrameSize {
		return r.reject(provider, protocol.Failf(protocol.StatusTooLarge,
			"frame of %d bytes exceeds the %d byte limit", r.length, r.config.MaxFrameSize))
	}

	ctx := pool.WithAffinity(r.tctx.ctx, r.tctx.Affinity())

	if r.app.sessions != nil && header.HasSession() {
		sess, err := r.app.sessions.Validate(ctx, header.Session)
		switch {
		case err == nil:
			ctx = session.WithSession(ctx, sess)
		case errors.Is(err, session.ErrNotFound):
			if r.app.sessionRequired {
				return r.reject(provider, protocol.Fail(protocol.StatusUnauthorized, "session missing or expired"))
			}
		default:
			req := &protocol.Request{Header: header, Remote: r.tctx.remote}
			return r.reject(provider, servlet.FailWith(req, err))
		}
	}

	deserializer := r.app.deserializer
	body, err := deserializer.Deserialize(provider)
	if err != nil {
		return r.readFailed(provider, err)
	}

	target, ok := r.app.Servlet(header.Resource)
	if !ok {
		logger.Error("No servlet mapped to resource %s", r.resourceLabel)
		r.tctx.Abort(fmt.Errorf("no servlet for resource %d", header.Resource))
		return nil
	}
	if !deserializer.Reactive() {
		r.release()
	}

	req := &protocol.Request{Header: header, Body: body, Remote: r.tctx.remote}
	resp := r.dispatch(ctx, target, req)

	if deserializer.Reactive() {
		if err := provider.Discard(); err != nil {
			r.tctx.Abort(err)
			return nil
		}
		r.release()
	}
	if err := provider.Failed(); err != nil {
		r.tctx.Abort(err)
		return nil
	}

	return r.respond(resp)
}

// labelHeader names the request in metrics after whatever part of the header
// was decoded. The rest stays UNKNOWN.
func (r *RequestTask) labelHeader(err error) {
	var he *protocol.HeaderError
	switch {
	case err == nil:
		r.methodLabel = r.header.Method.String()
		r.resourceLabel = r.app.resources.Name(r.header.Resource)
	case errors.As(err, &he) && he.Status == protocol.StatusUnknownResource:
		r.methodLabel = r.header.Method.String()
	}
}

// dispatch calls the servlet, turning a panic into INTERNAL_ERROR.
func (r *RequestTask) dispatch(ctx context.Context, target protocol.Servlet, req *protocol.Request) (resp *protocol.Response) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Panic in servlet for %s %s from %s: %v\n%s",
				req.Header.Method, r.app.resources.Name(req.Header.Resource), r.tctx.remote, p, debug.Stack())
			resp = protocol.Fail(protocol.StatusInternalError, "internal error")
		}
	}()

	resp = target.Handle(ctx, req)
	if resp == nil {
		logger.Error("Servlet for %s returned no response", r.app.resources.Name(req.Header.Resource))
		resp = protocol.Fail(protocol.StatusInternalError, "internal error")
	}
	return resp
}

// reject skips the rest of the frame and answers with resp.
func (r *RequestTask) reject(provider *protocol.DataProvider, resp *protocol.Response) error {
	if err := provider.Discard(); err != nil {
		r.tctx.Abort(err)
		return nil
	}
	r.release()
	return r.respond(resp)
}

// readFailed handles a header or body read error: a format error is
// answered, a stream failure aborts the connection.
func (r *RequestTask) readFailed(provider *protocol.DataProvider, err error) error {
	err = protocol.ClassifyReadError(err)

	var fe *protocol.FormatError
	if errors.As(err, &fe) {
		logger.Debug("Bad request from %s: %v", r.tctx.remote, err)
		return r.reject(provider, protocol.Fail(protocol.StatusBadFormatting, fe.Message))
	}

	r.tctx.Abort(err)
	return nil
}

func (r *RequestTask) respond(resp *protocol.Response) error {
	buf := protocol.GetBuffer(resp.Size())
	defer protocol.PutBuffer(buf)

	b := resp.AppendTo(buf[:0], r.header.ID)
	if err := r.tctx.Write(b); err != nil {
		r.tctx.Abort(fmt.Errorf("write response: %w", err))
		return nil
	}

	r.status = resp.Status.String()
	r.app.metrics.RecordBytes("out", int64(len(b)))
	return nil
}

// Finalize always runs: it frees the stream and the connection's request
// slot even when the task failed.
func (r *RequestTask) Finalize() {
	r.release()
	r.tctx.end()

	if r.read == 0 {
		r.read = protocol.FramePrefixSize
	}
	r.app.metrics.RecordBytes("in", r.read)
	r.app.metrics.RecordRequest(r.methodLabel, r.resourceLabel, r.status, time.Since(r.start))
}
