package scenario

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/amaydixit11/causalchat/internal/core"
	"github.com/amaydixit11/causalchat/internal/engine"
)

// Op identifies a scenario step
type Op string

const (
	OpSend            Op = "send"             // process sends payload, remembered as label
	OpEnqueue         Op = "enqueue"          // labelled message reaches process, no delivery pass
	OpDeliver         Op = "deliver"          // enqueue followed by a delivery pass
	OpPoll            Op = "poll"             // delivery pass at process
	OpReset           Op = "reset"            // new session with processes participants
	OpExpectDelivered Op = "expect_delivered" // delivered sequence at process equals labels
	OpExpectClock     Op = "expect_clock"     // clock at process equals clock
	OpExpectPending   Op = "expect_pending"   // pending count at process equals count
)

// Script is a parsed scenario
type Script struct {
	Name      string `json:"name"`
	Processes int    `json:"processes"`
	Steps     []Step `json:"steps"`
}

// Step is one scenario instruction. Which fields matter depends on Op.
type Step struct {
	Op        Op       `json:"op"`
	Process   int      `json:"process"`
	Processes int      `json:"processes,omitempty"`
	Payload   string   `json:"payload,omitempty"`
	Label     string   `json:"label,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Clock     []uint64 `json:"clock,omitempty"`
	Count     int      `json:"count,omitempty"`
}

// StepResult records the observable state after a step
type StepResult struct {
	Index     int          `json:"index"`
	Op        Op           `json:"op"`
	Process   int          `json:"process"`
	Label     string       `json:"label,omitempty"`
	Delivered []string     `json:"delivered,omitempty"` // labels released by this step
	Clock     core.Entries `json:"clock,omitempty"`
	Pending   int          `json:"pending"`
}

// Transcript is the outcome of running a script
type Transcript struct {
	Name  string       `json:"name"`
	Steps []StepResult `json:"steps"`
}

// ErrExpectation is returned when an expect_* step does not hold
type ErrExpectation struct {
	Step int
	Op   Op
	Want string
	Got  string
}

func (e ErrExpectation) Error() string {
	return fmt.Sprintf("step %d (%s): want %s, got %s", e.Step, e.Op, e.Want, e.Got)
}

// Parse validates data against ScriptSchema and decodes it
func Parse(data []byte) (*Script, error) {
	if res := Validate(data); !res.Valid {
		return nil, ErrInvalidScript{Errors: res.Errors}
	}
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	return &s, nil
}

// runner carries label bookkeeping for one run
type runner struct {
	engine   engine.Engine
	messages map[string]core.Message
	labels   map[uint64]string // message id -> label, current session only
}

// Run resets e to the script's group size and executes every step. It stops
// at the first failing step; the transcript so far is returned with the error.
func Run(e engine.Engine, s *Script) (*Transcript, error) {
	r := &runner{engine: e}
	t := &Transcript{Name: s.Name}

	if err := r.reset(s.Processes); err != nil {
		return t, err
	}

	for i, step := range s.Steps {
		res, err := r.step(i, step)
		if err != nil {
			return t, err
		}
		t.Steps = append(t.Steps, res)
	}
	return t, nil
}

func (r *runner) reset(n int) error {
	if err := r.engine.Reset(n); err != nil {
		return err
	}
	r.messages = make(map[string]core.Message)
	r.labels = make(map[uint64]string)
	return nil
}

func (r *runner) step(i int, step Step) (StepResult, error) {
	res := StepResult{Index: i, Op: step.Op, Process: step.Process, Label: step.Label}

	switch step.Op {
	case OpSend:
		if _, dup := r.messages[step.Label]; dup {
			return res, fmt.Errorf("step %d: label %q already used", i, step.Label)
		}
		msg, err := r.engine.Send(step.Process, step.Payload)
		if err != nil {
			return res, fmt.Errorf("step %d: %w", i, err)
		}
		r.messages[step.Label] = msg
		r.labels[msg.ID] = step.Label

	case OpEnqueue, OpDeliver:
		msg, ok := r.messages[step.Label]
		if !ok {
			return res, fmt.Errorf("step %d: unknown label %q", i, step.Label)
		}
		if err := r.engine.Enqueue(step.Process, msg); err != nil {
			return res, fmt.Errorf("step %d: %w", i, err)
		}
		if step.Op == OpDeliver {
			if err := r.poll(&res); err != nil {
				return res, fmt.Errorf("step %d: %w", i, err)
			}
		}

	case OpPoll:
		if err := r.poll(&res); err != nil {
			return res, fmt.Errorf("step %d: %w", i, err)
		}

	case OpReset:
		res.Process = -1
		if err := r.reset(step.Processes); err != nil {
			return res, fmt.Errorf("step %d: %w", i, err)
		}
		return res, nil

	case OpExpectDelivered:
		delivered, err := r.engine.Delivered(step.Process)
		if err != nil {
			return res, fmt.Errorf("step %d: %w", i, err)
		}
		got := r.labelsOf(delivered)
		if strings.Join(got, ",") != strings.Join(step.Labels, ",") {
			return res, ErrExpectation{Step: i, Op: step.Op, Want: fmt.Sprint(step.Labels), Got: fmt.Sprint(got)}
		}

	case OpExpectClock:
		clock, err := r.engine.CurrentClock(step.Process)
		if err != nil {
			return res, fmt.Errorf("step %d: %w", i, err)
		}
		want := core.Entries(step.Clock)
		if ord, err := clock.Compare(want); err != nil || ord != core.Equal {
			return res, ErrExpectation{Step: i, Op: step.Op, Want: want.String(), Got: clock.String()}
		}

	case OpExpectPending:
		n, err := r.engine.PendingCount(step.Process)
		if err != nil {
			return res, fmt.Errorf("step %d: %w", i, err)
		}
		if n != step.Count {
			return res, ErrExpectation{Step: i, Op: step.Op, Want: fmt.Sprint(step.Count), Got: fmt.Sprint(n)}
		}

	default:
		return res, fmt.Errorf("step %d: unknown op %q", i, step.Op)
	}

	return r.observe(res)
}

func (r *runner) poll(res *StepResult) error {
	delivered, err := r.engine.PollDelivery(res.Process)
	if err != nil {
		return err
	}
	res.Delivered = r.labelsOf(delivered)
	return nil
}

func (r *runner) observe(res StepResult) (StepResult, error) {
	clock, err := r.engine.CurrentClock(res.Process)
	if err != nil {
		return res, fmt.Errorf("step %d: %w", res.Index, err)
	}
	pending, err := r.engine.PendingCount(res.Process)
	if err != nil {
		return res, fmt.Errorf("step %d: %w", res.Index, err)
	}
	res.Clock = clock
	res.Pending = pending
	return res, nil
}

func (r *runner) labelsOf(msgs []core.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		label, ok := r.labels[m.ID]
		if !ok {
			label = fmt.Sprintf("#%d", m.ID)
		}
		out[i] = label
	}
	return out
}
