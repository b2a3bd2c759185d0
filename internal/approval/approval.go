// Package approval defines the external-decision port the gate suspends on.
//
// The pipeline never embeds prompt logic; it hands a Request to an Approver
// and waits for yes/no/timeout under a context deadline.
package approval

import (
	"context"

	"github.com/interact-space/database-safe-layer/internal/classify"
	"github.com/interact-space/database-safe-layer/internal/dryrun"
)

// Decision is the approver's answer.
type Decision string

const (
	DecisionYes     Decision = "yes"
	DecisionNo      Decision = "no"
	DecisionTimeout Decision = "timeout"
)

// Request carries everything a reviewer needs to judge a run.
type Request struct {
	RunID      string
	SQL        string
	Assessment classify.Assessment
	DryRun     *dryrun.Result
}

// Approver is the external yes/no collaborator. Implementations must honor
// ctx cancellation and report DecisionTimeout when the deadline passes
// without an answer.
type Approver interface {
	RequestApproval(ctx context.Context, req *Request) (Decision, error)
}

// Func adapts a function to the Approver interface.
type Func func(ctx context.Context, req *Request) (Decision, error)

// RequestApproval implements Approver.
func (f Func) RequestApproval(ctx context.Context, req *Request) (Decision, error) {
	return f(ctx, req)
}

// Static always answers with a fixed decision. Useful for deny-all policies
// and tests.
type Static struct {
	Decision Decision
}

// RequestApproval implements Approver.
func (s Static) RequestApproval(ctx context.Context, req *Request) (Decision, error) {
	return s.Decision, nil
}
