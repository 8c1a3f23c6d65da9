package rag

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrEmptyUtterance = errors.New("rag: empty utterance")

// Step names a state of a turn. StepDone is reached only by completed turns.
type Step string

const (
	StepContextAssembly   Step = "context_assembly"
	StepEmbed             Step = "embed"
	StepRetrieve          Step = "retrieve"
	StepQuerySynthesis    Step = "query_synthesis"
	StepQueryExecution    Step = "query_execution"
	StepAnswerSynthesis   Step = "answer_synthesis"
	StepFollowUpSynthesis Step = "followup_synthesis"
	StepDone              Step = "done"
)

// TurnError aborts a turn. Step is for logs and metrics only.
type TurnError struct {
	Step Step
	Err  error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed at %s: %v", e.Step, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// DesyncError reports retrieved ids that have no catalogue row.
type DesyncError struct {
	IDs []int64
}

func (e *DesyncError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return "vector index and catalogue out of sync: missing ids " + strings.Join(ids, ", ")
}

const genericFailureMessage = "Sorry, I could not answer that right now. Please try again in a moment."

// UserMessage is the only text shown to a user when a turn fails.
func UserMessage(err error) string {
	if errors.Is(err, ErrEmptyUtterance) {
		return "Please enter a question."
	}
	return genericFailureMessage
}
