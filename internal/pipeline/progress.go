package pipeline

import (
	"fmt"
	"sync/atomic"
)

// progressBuffer is the number of events a slow reader may fall behind by.
const progressBuffer = 64

// ProgressReporter carries stage events to the operator. Emit never blocks
// an import: when the reader falls behind the event is dropped and counted.
type ProgressReporter struct {
	ch      chan ProgressEvent
	dropped atomic.Int64
}

func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{ch: make(chan ProgressEvent, progressBuffer)}
}

// Emit queues event, or counts it as dropped when the buffer is full.
func (pr *ProgressReporter) Emit(event ProgressEvent) {
	select {
	case pr.ch <- event:
	default:
		pr.dropped.Add(1)
	}
}

// Dropped returns how many events Emit could not queue.
func (pr *ProgressReporter) Dropped() int {
	return int(pr.dropped.Load())
}

func (pr *ProgressReporter) Subscribe() <-chan ProgressEvent {
	return pr.ch
}

func (pr *ProgressReporter) Close() {
	close(pr.ch)
}

// FormatProgress formats a ProgressEvent as a human-readable status line.
func FormatProgress(event ProgressEvent) string {
	switch event.Status {
	case ProgressPending:
		return fmt.Sprintf("  ○ %s (pending)", event.Section)
	case ProgressWorking:
		if event.Message != "" {
			return fmt.Sprintf("  ● %s", event.Message)
		}
		return fmt.Sprintf("  ● %s...", event.Section)
	case ProgressComplete:
		if event.Message != "" {
			return fmt.Sprintf("  ✓ %s complete: %s", event.Section, event.Message)
		}
		return fmt.Sprintf("  ✓ %s complete", event.Section)
	case ProgressFailed:
		return fmt.Sprintf("  ✗ %s failed: %s", event.Section, event.Message)
	default:
		return fmt.Sprintf("  ? %s (unknown status)", event.Section)
	}
}

// FormatStageHeader formats a stage header for display.
// Returns: "[{study}] Stage {N}: {stage.String()}"
func FormatStageHeader(study string, stage Stage) string {
	return fmt.Sprintf("[%s] Stage %d: %s", study, int(stage), stage.String())
}

// summary renders a report for the completion event.
func summary(created, reused, linked, warnings int) string {
	s := fmt.Sprintf("%d created, %d reused, %d linked", created, reused, linked)
	if warnings > 0 {
		s += fmt.Sprintf(", %d warnings", warnings)
	}
	return s
}
