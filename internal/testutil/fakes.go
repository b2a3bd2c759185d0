package testutil

import (
	"context"
	"sync"

	"github.com/interact-space/database-safe-layer/internal/approval"
)

// FakeExecutor records executed statements and returns canned results. It
// stands in for the live execution collaborator in pipeline tests.
type FakeExecutor struct {
	mu       sync.Mutex
	executed []string

	AffectedRows int64
	Err          error
}

// Execute implements the gate's Executor interface.
func (f *FakeExecutor) Execute(ctx context.Context, sql string) (int64, error) {
	f.mu.Lock()
	f.executed = append(f.executed, sql)
	f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	return f.AffectedRows, nil
}

// Executed returns a copy of every statement executed so far.
func (f *FakeExecutor) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// Calls returns how many times Execute ran.
func (f *FakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

// RecordingApprover wraps a fixed decision and captures the requests it saw.
type RecordingApprover struct {
	mu       sync.Mutex
	requests []*approval.Request

	Decision approval.Decision
	Err      error
}

// RequestApproval implements approval.Approver.
func (r *RecordingApprover) RequestApproval(ctx context.Context, req *approval.Request) (approval.Decision, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	return r.Decision, nil
}

// Requests returns a copy of the captured approval requests.
func (r *RecordingApprover) Requests() []*approval.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*approval.Request(nil), r.requests...)
}
