package cachegate

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cachegate/cachegate/eventbus"
	"github.com/cachegate/cachegate/internal/queue"
	"github.com/cachegate/cachegate/log"
	"github.com/cachegate/cachegate/store"
	"github.com/cachegate/cachegate/wire"
)

type queuedRequest struct {
	Handle *conn
	Cmd    wire.Command
}

type queuedResponse struct {
	Handle eventbus.Handle
	Frame  wire.Frame
}

// RequestQueue and ResponseQueue are the two unbounded FIFOs the pipeline
// is built from: bytes -> FrameCodec -> RequestQueue -> Dispatcher ->
// (Store ∪ EventBus) -> ResponseQueue -> FrameCodec -> bytes.
type RequestQueue struct{ q *queue.Queue[queuedRequest] }

func NewRequestQueue() *RequestQueue { return &RequestQueue{q: queue.New[queuedRequest]()} }

func (r *RequestQueue) Enqueue(h *conn, cmd wire.Command) {
	r.q.Push(queuedRequest{Handle: h, Cmd: cmd})
}

type ResponseQueue struct{ q *queue.Queue[queuedResponse] }

func NewResponseQueue() *ResponseQueue { return &ResponseQueue{q: queue.New[queuedResponse]()} }

// Enqueue implements eventbus.ResponseSink, so EventBus.Publish can push
// straight onto the same queue the dispatcher's own responses use.
func (r *ResponseQueue) Enqueue(h eventbus.Handle, f wire.Frame) {
	r.q.Push(queuedResponse{Handle: h, Frame: f})
}

var _ eventbus.ResponseSink = (*ResponseQueue)(nil)

// Dispatcher is the single goroutine that preserves global request order:
// it drains RequestQueue and routes each command to Store or EventBus.
type Dispatcher struct {
	requests  *RequestQueue
	responses *ResponseQueue
	store     *store.Store
	bus       *eventbus.EventBus
	log       log.Logger
	lazy      bool
}

func NewDispatcher(requests *RequestQueue, responses *ResponseQueue, s *store.Store, bus *eventbus.EventBus, l log.Logger, lazyExpiry bool) *Dispatcher {
	return &Dispatcher{requests: requests, responses: responses, store: s, bus: bus, log: l, lazy: lazyExpiry}
}

func (d *Dispatcher) Run(ctx context.Context) {
	for {
		item, ok := d.requests.q.Pop(ctx)
		if !ok {
			return
		}
		frame, ev := d.handle(item.Handle, item.Cmd)
		d.responses.Enqueue(item.Handle, frame)
		if ev != nil {
			d.bus.Publish(ev.Kind, ev.Message)
		}
	}
}

// handle runs cmd against Store/EventBus and returns the frame due back to
// the caller along with any event the command produced. The event is
// deliberately not published here: Run enqueues the response first and
// publishes the event only after, so a connection subscribed to its own
// mutation's event kind always sees its response ahead of that event.
func (d *Dispatcher) handle(h *conn, cmd wire.Command) (wire.Frame, *store.PendingEvent) {
	switch c := cmd.(type) {
	case wire.CreateCmd:
		ev, err := d.store.Create(c.Key, c.Value, 0)
		if err != nil {
			return errFrame(c.RequestID, storeErrorToClientError(err)), nil
		}
		return wire.Response(c.RequestID, wire.CodeOK, "Created "+c.Key), ev
	case wire.AddCmd:
		// The wire ttl is seconds from now; Store keeps an absolute deadline.
		deadline := c.TTL
		if deadline != 0 {
			deadline += time.Now().Unix()
		}
		ev, err := d.store.Create(c.Key, c.Value, deadline)
		if err != nil {
			return errFrame(c.RequestID, storeErrorToClientError(err)), nil
		}
		return wire.Response(c.RequestID, wire.CodeOK, "Created "+c.Key), ev
	case wire.ReadCmd:
		v, ev, err := d.store.Read(c.Key, d.lazy)
		if err != nil {
			return errFrame(c.RequestID, storeErrorToClientError(err)), ev
		}
		return wire.ResponseValue(c.RequestID, wire.CodeOK, "OK", v), ev
	case wire.UpdateCmd:
		deadline := c.TTL
		if deadline != 0 {
			deadline += time.Now().Unix()
		}
		ev, err := d.store.Update(c.Key, c.Value, c.HasTTL, deadline)
		if err != nil {
			return errFrame(c.RequestID, storeErrorToClientError(err)), nil
		}
		return wire.Response(c.RequestID, wire.CodeOK, "Updated "+c.Key), ev
	case wire.DeleteCmd:
		ev, err := d.store.Delete(c.Key)
		if err != nil {
			return errFrame(c.RequestID, storeErrorToClientError(err)), nil
		}
		return wire.Response(c.RequestID, wire.CodeOK, "Key Deleted Successfully"), ev
	case wire.MemCmd:
		mb := d.store.Accountant.CurrentMB()
		return wire.ResponseValue(c.RequestID, wire.CodeOK, "OK", formatMB(mb)), nil
	case wire.FlushAllCmd:
		ev := d.store.FlushAll()
		return wire.Response(c.RequestID, wire.CodeOK, "Flushed"), ev
	case wire.SubCmd:
		return d.subscribe(h, c.RequestID, c.Kind), nil
	case wire.UnsubCmd:
		return d.unsubscribe(h, c.RequestID, c.Kind), nil
	default:
		return wire.ErrorFrame("0", wire.CodeInternal, "unrecognized command"), nil
	}
}

func (d *Dispatcher) subscribe(h *conn, reqID string, kind wire.EventKind) wire.Frame {
	if err := d.bus.Subscribe(h, kind); err != nil {
		// Already-registered is not an error to the client; SUB is idempotent.
		return wire.Response(reqID, wire.CodeOK, "Already subscribed to "+string(kind))
	}
	return wire.Response(reqID, wire.CodeOK, "Subscribed to "+string(kind))
}

func (d *Dispatcher) unsubscribe(h *conn, reqID string, kind wire.EventKind) wire.Frame {
	d.bus.Unsubscribe(h, kind)
	return wire.Response(reqID, wire.CodeOK, "Unsubscribed from "+string(kind))
}

func errFrame(reqID string, err error) wire.Frame {
	if ce, ok := err.(*ClientError); ok {
		return wire.ErrorFrame(reqID, ce.Code, ce.Message)
	}
	return wire.ErrorFrame(reqID, wire.CodeInternal, err.Error())
}

func formatMB(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// Writer is the single goroutine that drains ResponseQueue and writes each
// frame to its handle's socket, purging the handle from EventBus on a
// permanent write failure.
type Writer struct {
	responses *ResponseQueue
	bus       *eventbus.EventBus
	log       log.Logger
}

func NewWriter(responses *ResponseQueue, bus *eventbus.EventBus, l log.Logger) *Writer {
	return &Writer{responses: responses, bus: bus, log: l}
}

func (w *Writer) Run(ctx context.Context) {
	for {
		item, ok := w.responses.q.Pop(ctx)
		if !ok {
			return
		}
		h, ok := item.Handle.(*conn)
		if !ok || h.isClosed() {
			continue
		}
		if err := writeFrame(h, item.Frame); err != nil {
			w.log.Warnf("write to conn %d failed: %v", h.id, err)
			h.Close()
			w.bus.Purge(item.Handle)
		}
	}
}

func writeFrame(h *conn, f wire.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	b = append(b, Separator...)
	_, err = h.rwc.Write(b)
	return err
}
