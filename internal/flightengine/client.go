package flightengine

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-volley/internal/engine"
	"github.com/23skdu/longbow-volley/internal/logger"
	"github.com/23skdu/longbow-volley/internal/sampling"
)

// Flight protocol endpoints.
const (
	pathRequests      = "requests"
	ticketStep        = "step"
	actionUnfinished  = "num_unfinished"
	defaultDialTarget = "localhost:3100"
)

// Remote is an Engine implementation backed by an Arrow Flight service that
// hosts the actual continuous-batching engine. Submissions travel as one-row
// Arrow records over DoPut; each Step issues a DoGet and decodes the returned
// record stream; unfinished counts come from a DoAction.
type Remote struct {
	client  flight.Client
	mem     memory.Allocator
	log     *logger.Logger
	timeout time.Duration

	// set when an unfinished-count probe fails, so the poll loop reaches
	// Step and surfaces the transport error instead of exiting silently
	probeFailed bool
}

// NewRemote dials the Flight engine service. An empty addr uses the default
// local target.
func NewRemote(addr string) (*Remote, error) {
	if addr == "" {
		addr = defaultDialTarget
	}
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial flight engine %s: %w", addr, err)
	}
	return &Remote{
		client:  client,
		mem:     memory.DefaultAllocator,
		log:     logger.Log.WithComponent("flight-engine"),
		timeout: 30 * time.Second,
	}, nil
}

func (r *Remote) Close() error {
	return r.client.Close()
}

func (r *Remote) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

// Submit registers a request with the remote engine. The server registers it
// and returns immediately; completion is observed through Step.
func (r *Remote) Submit(id string, prompt string, cfg sampling.Config, tokenIDs []int) error {
	ctx, cancel := r.context()
	defer cancel()

	rec, err := encodeRequest(r.mem, id, prompt, cfg, tokenIDs)
	if err != nil {
		return err
	}
	defer rec.Release()

	stream, err := r.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("submit %s: %w", id, err)
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(requestSchema))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{pathRequests},
	})
	if err := wr.Write(rec); err != nil {
		return fmt.Errorf("submit %s: write record: %w", id, err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("submit %s: close writer: %w", id, err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("submit %s: close stream: %w", id, err)
	}
	return nil
}

// Step asks the remote engine to advance all in-flight requests by one unit
// of work and decodes whatever outputs it reports.
func (r *Remote) Step() ([]*engine.RequestOutput, error) {
	ctx, cancel := r.context()
	defer cancel()

	r.probeFailed = false

	stream, err := r.client.DoGet(ctx, &flight.Ticket{Ticket: []byte(ticketStep)})
	if err != nil {
		return nil, fmt.Errorf("engine step: %w", err)
	}

	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, fmt.Errorf("engine step: open reader: %w", err)
	}
	defer rdr.Release()

	var outputs []*engine.RequestOutput
	for rdr.Next() {
		outs, err := decodeOutputs(rdr.Record())
		if err != nil {
			return nil, fmt.Errorf("engine step: %w", err)
		}
		outputs = append(outputs, outs...)
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("engine step: %w", err)
	}
	return outputs, nil
}

func (r *Remote) HasUnfinishedRequests() bool {
	if r.probeFailed {
		// Keep the poll loop alive so Step surfaces the real error.
		return true
	}
	n, err := r.unfinished()
	if err != nil {
		r.log.Warn("unfinished-count probe failed", "error", err.Error())
		r.probeFailed = true
		return true
	}
	return n > 0
}

func (r *Remote) NumUnfinishedRequests() int {
	n, err := r.unfinished()
	if err != nil {
		r.log.Warn("unfinished-count probe failed", "error", err.Error())
		return 0
	}
	return n
}

func (r *Remote) unfinished() (int, error) {
	ctx, cancel := r.context()
	defer cancel()

	stream, err := r.client.DoAction(ctx, &flight.Action{Type: actionUnfinished})
	if err != nil {
		return 0, err
	}
	res, err := stream.Recv()
	if err != nil {
		return 0, err
	}
	if len(res.Body) != 8 {
		return 0, fmt.Errorf("unexpected %s body length %d", actionUnfinished, len(res.Body))
	}
	return int(binary.BigEndian.Uint64(res.Body)), nil
}
