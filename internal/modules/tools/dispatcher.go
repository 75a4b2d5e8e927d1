package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/deepblue/internal/domain"
	"github.com/aristath/deepblue/internal/modules/toolruns"
)

// Dispatcher executes one batch of tool calls per agent turn.
//
// Turn policies:
//   - at most maxCallsPerTurn calls run; overflow calls get synthesized
//     rejection results
//   - exactly one mutating call is honored per turn; later mutating calls
//     get policy rejections
//   - read-only calls run concurrently (bounded); the mutating call runs
//     strictly after every read has finished
//   - results are returned in the model's original request order
type Dispatcher struct {
	registry        *Registry
	toolRuns        *toolruns.Repository
	maxCallsPerTurn int
	readConcurrency int
	log             zerolog.Logger
}

// NewDispatcher creates a new tool dispatcher
func NewDispatcher(registry *Registry, toolRuns *toolruns.Repository, maxCallsPerTurn, readConcurrency int, log zerolog.Logger) *Dispatcher {
	if maxCallsPerTurn <= 0 {
		maxCallsPerTurn = 6
	}
	if readConcurrency <= 0 {
		readConcurrency = 4
	}
	return &Dispatcher{
		registry:        registry,
		toolRuns:        toolRuns,
		maxCallsPerTurn: maxCallsPerTurn,
		readConcurrency: readConcurrency,
		log:             log.With().Str("service", "tool_dispatcher").Logger(),
	}
}

// slot holds one call's outcome until the batch is assembled
type slot struct {
	call    domain.ToolCall
	result  domain.ToolResult
	effects []domain.SideEffect
	elapsed time.Duration
}

// Dispatch runs the calls under the turn policies and returns results in the
// original request order plus all aggregated side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, threadID string, calls []domain.ToolCall) ([]domain.ToolResult, []domain.SideEffect) {
	if len(calls) == 0 {
		return nil, nil
	}

	ordered := make([]domain.ToolCall, len(calls))
	copy(ordered, calls)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	slots := make([]slot, len(ordered))
	for i, call := range ordered {
		slots[i].call = call
	}

	honored := len(ordered)
	if honored > d.maxCallsPerTurn {
		honored = d.maxCallsPerTurn
		for i := honored; i < len(ordered); i++ {
			d.rejectSlot(&slots[i], fmt.Sprintf("tool call limit exceeded: at most %d calls per turn", d.maxCallsPerTurn))
		}
		d.log.Warn().
			Str("thread_id", threadID).
			Int("requested", len(ordered)).
			Int("honored", honored).
			Msg("Tool call overflow, extra calls rejected")
	}

	// Partition honored calls: the first mutating call is the turn's single
	// write, later mutating calls are policy rejections, everything else is
	// a read.
	var readIdx []int
	writeIdx := -1
	for i := 0; i < honored; i++ {
		tool, ok := d.registry.Get(slots[i].call.ToolName)
		if !ok {
			d.rejectSlot(&slots[i], fmt.Sprintf("unknown tool %q", slots[i].call.ToolName))
			continue
		}
		if tool.Mutating() {
			if writeIdx >= 0 {
				d.rejectSlot(&slots[i], "only one trade may be executed per turn; call rejected")
				continue
			}
			writeIdx = i
			continue
		}
		readIdx = append(readIdx, i)
	}

	ec := ExecContext{ThreadID: threadID}

	// Reads run concurrently, bounded. Each worker only touches its own slot.
	var g errgroup.Group
	g.SetLimit(d.readConcurrency)
	for _, i := range readIdx {
		i := i
		g.Go(func() error {
			d.execSlot(ctx, ec, &slots[i])
			return nil
		})
	}
	g.Wait()

	// The single write runs only after every read has completed
	if writeIdx >= 0 {
		d.execSlot(ctx, ec, &slots[writeIdx])
	}

	d.recordRuns(ctx, threadID, slots)

	results := make([]domain.ToolResult, len(slots))
	var effects []domain.SideEffect
	for i, s := range slots {
		results[i] = s.result
		effects = append(effects, s.effects...)
	}
	return results, effects
}

// execSlot runs one honored call and captures its outcome
func (d *Dispatcher) execSlot(ctx context.Context, ec ExecContext, s *slot) {
	tool, _ := d.registry.Get(s.call.ToolName)

	start := time.Now()
	content, effects, err := d.execTool(ctx, tool, ec, s.call)
	s.elapsed = time.Since(start)

	if err != nil {
		d.log.Warn().Err(err).
			Str("thread_id", ec.ThreadID).
			Str("tool", s.call.ToolName).
			Dur("elapsed", s.elapsed).
			Msg("Tool call failed")
		s.result = domain.ToolResult{
			Index:    s.call.Index,
			CallID:   s.call.CallID,
			ToolName: s.call.ToolName,
			Content:  fmt.Sprintf("tool %s failed: %v", s.call.ToolName, err),
			Success:  false,
		}
		return
	}

	s.result = domain.ToolResult{
		Index:    s.call.Index,
		CallID:   s.call.CallID,
		ToolName: s.call.ToolName,
		Content:  content,
		Success:  true,
	}
	s.effects = effects
}

// execTool isolates tool panics so one broken tool cannot take down the turn
func (d *Dispatcher) execTool(ctx context.Context, tool Tool, ec ExecContext, call domain.ToolCall) (content string, effects []domain.SideEffect, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Execute(ctx, ec, call.Arguments)
}

// rejectSlot synthesizes a policy-rejection result without executing anything
func (d *Dispatcher) rejectSlot(s *slot, reason string) {
	s.result = domain.ToolResult{
		Index:    s.call.Index,
		CallID:   s.call.CallID,
		ToolName: s.call.ToolName,
		Content:  reason,
		Success:  false,
	}
}

// recordRuns writes one ToolRun per call, rejections included, in a single
// batch. Recording is best effort and never fails the turn.
func (d *Dispatcher) recordRuns(ctx context.Context, threadID string, slots []slot) {
	if d.toolRuns == nil {
		return
	}

	runs := make([]toolruns.ToolRun, 0, len(slots))
	for _, s := range slots {
		runs = append(runs, toolruns.ToolRun{
			ThreadID:  threadID,
			ToolName:  s.call.ToolName,
			Arguments: string(s.call.Arguments),
			Result:    s.result.Content,
			ElapsedMS: s.elapsed.Milliseconds(),
			Success:   s.result.Success,
		})
	}

	if err := d.toolRuns.CreateBatch(ctx, runs); err != nil {
		d.log.Warn().Err(err).
			Str("thread_id", threadID).
			Int("runs", len(runs)).
			Msg("Failed to record tool runs")
	}
}
