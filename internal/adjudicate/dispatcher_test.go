package adjudicate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pulsecheck/sift/internal/ailog"
	"github.com/pulsecheck/sift/internal/config"
	"github.com/pulsecheck/sift/pkg/llm"
	"github.com/pulsecheck/sift/pkg/pagination"
)

type stubLog struct {
	successes map[string]string
}

func (l *stubLog) Handler() *ailog.Handler { return nil }

func (l *stubLog) List(context.Context, pagination.PageRequest, ailog.Filters) (*pagination.PageResult[ailog.Entry], error) {
	return nil, nil
}

func (l *stubLog) Find(context.Context, uuid.UUID) (*ailog.Entry, error) {
	return nil, ailog.ErrNotFound
}

func (l *stubLog) LogRequest(context.Context, ailog.RequestCommand) (*ailog.Entry, error) {
	return &ailog.Entry{ID: uuid.New(), Status: ailog.StatusPending}, nil
}

func (l *stubLog) LogResponse(_ context.Context, cmd ailog.ResponseCommand) (*ailog.Entry, error) {
	if cmd.Status == ailog.StatusSuccess {
		l.successes[cmd.Input] = cmd.Response
	}
	return &ailog.Entry{ID: uuid.New(), Status: cmd.Status}, nil
}

func (l *stubLog) SuccessfulResponse(_ context.Context, _, _, input string) (*ailog.Entry, error) {
	response, ok := l.successes[input]
	if !ok {
		return nil, ailog.ErrNotFound
	}
	return &ailog.Entry{Status: ailog.StatusSuccess, Response: &response}, nil
}

func (l *stubLog) HasPendingCall(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

type countingCaller struct {
	calls    int
	response string
}

func (c *countingCaller) Call(context.Context, llm.Request) (*llm.Response, error) {
	c.calls++
	return &llm.Response{Content: c.response, OutputTokens: 5}, nil
}

func (c *countingCaller) Provider() string { return "test" }
func (c *countingCaller) Model() string    { return "model-c" }

func testDispatcher(caller llm.Caller, log ailog.System, batchSize int) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDispatcher(caller, config.ClassifierConfig{}, log, logger, batchSize, time.Millisecond, time.Second)
}

func TestResolveReplaysCompletedBatches(t *testing.T) {
	caller := &countingCaller{response: `[{"index":1,"concerning":true,"identifiable":false}]`}
	log := &stubLog{successes: make(map[string]string)}
	d := testDispatcher(caller, log, 10)

	cases := []Case{{ID: "c-1", Text: "disputed", Index: 1}}

	outcomes, err := d.Resolve(context.Background(), "user-1", "run-1", cases)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if caller.calls != 1 {
		t.Fatalf("caller.calls = %d, want 1", caller.calls)
	}
	if o := outcomes["c-1"]; !o.Concerning {
		t.Errorf("outcomes[c-1] = %+v, want concerning", o)
	}

	// A duplicate invocation resolves from the logged response.
	again, err := d.Resolve(context.Background(), "user-1", "run-1", cases)
	if err != nil {
		t.Fatalf("duplicate resolve failed: %v", err)
	}
	if caller.calls != 1 {
		t.Errorf("caller.calls = %d after replay, want still 1", caller.calls)
	}
	if o := again["c-1"]; !o.Concerning {
		t.Errorf("replayed outcomes[c-1] = %+v, want concerning", o)
	}
}

func TestResolveReplaysAcrossDispatchers(t *testing.T) {
	caller := &countingCaller{response: `[{"index":1,"concerning":false,"identifiable":true}]`}
	log := &stubLog{successes: make(map[string]string)}
	cases := []Case{{ID: "c-1", Text: "disputed", Index: 1}}

	if _, err := testDispatcher(caller, log, 10).Resolve(context.Background(), "user-1", "run-1", cases); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// A fresh dispatcher (new process) still finds the logged response.
	fresh := testDispatcher(caller, log, 10)
	outcomes, err := fresh.Resolve(context.Background(), "user-1", "run-1", cases)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if caller.calls != 1 {
		t.Errorf("caller.calls = %d, want 1 across dispatchers", caller.calls)
	}
	if o := outcomes["c-1"]; !o.Identifiable {
		t.Errorf("outcomes[c-1] = %+v, want identifiable", o)
	}
}

func TestResolveBatches(t *testing.T) {
	caller := &countingCaller{response: `[{"index":1,"concerning":true},{"index":2,"concerning":true}]`}
	log := &stubLog{successes: make(map[string]string)}
	d := testDispatcher(caller, log, 2)

	cases := []Case{
		{ID: "c-1", Index: 1},
		{ID: "c-2", Index: 2},
		{ID: "c-3", Index: 3},
		{ID: "c-4", Index: 4},
		{ID: "c-5", Index: 5},
	}

	outcomes, err := d.Resolve(context.Background(), "user-1", "run-1", cases)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// 5 cases at batch size 2 means three calls.
	if caller.calls != 3 {
		t.Errorf("caller.calls = %d, want 3", caller.calls)
	}
	if len(outcomes) != 5 {
		t.Errorf("len(outcomes) = %d, want 5", len(outcomes))
	}
}

func TestResolveParsesVerdicts(t *testing.T) {
	caller := &countingCaller{response: "i:1\nA:Y\nB:N\n"}
	log := &stubLog{successes: make(map[string]string)}
	d := testDispatcher(caller, log, 10)

	outcomes, err := d.Resolve(context.Background(), "user-1", "run-1", []Case{{ID: "c-1", Index: 1}})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if o := outcomes["c-1"]; !o.Concerning || o.Identifiable {
		t.Errorf("outcomes[c-1] = %+v, want line-format ruling", o)
	}
}
