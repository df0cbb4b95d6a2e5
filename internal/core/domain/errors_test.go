package domain

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConflictError_IsErrConflict(t *testing.T) {
	err := fmt.Errorf("creating job: %w", &ConflictError{SourceID: "src-1", ActiveJobID: "job-9"})

	assert.True(t, errors.Is(err, ErrConflict))
	assert.Contains(t, err.Error(), "job-9")

	var ce *ConflictError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, "src-1", ce.SourceID)
}

func TestSourceNotFoundError_IsFatal(t *testing.T) {
	err := fmt.Errorf("insert chunks: %w", &SourceNotFoundError{Entity: "version", ID: "v1"})

	assert.True(t, errors.Is(err, ErrSourceNotFound))
	assert.True(t, IsFatal(err))
	assert.False(t, IsItemScoped(err))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		itemScoped bool
		fatal      bool
		transient  bool
	}{
		{"nil", nil, false, false, false},
		{"transient", &TransientConnectorError{Op: "GET", Err: errors.New("503")}, true, false, true},
		{"terminal item", &TerminalItemError{ItemKey: "a.txt", Err: errors.New("404")}, true, false, false},
		{"extraction", &ExtractionError{Processor: "pdf", Err: errors.New("bad xref")}, true, false, false},
		{"unsupported format", fmt.Errorf("x: %w", ErrUnsupportedFormat), true, false, false},
		{"fatal", &FatalJobError{Reason: "connector unreachable"}, false, true, false},
		{"dimension mismatch", fmt.Errorf("init: %w", ErrDimensionMismatch), false, true, false},
		{"missing tenant", ErrMissingTenant, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.itemScoped, IsItemScoped(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}

func TestIsUnreachable(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retries exhausted", &TransientConnectorError{Op: "GET", Err: errors.New("503")}, true},
		{"dial failure", &TerminalItemError{ItemKey: "u", Err: refused}, true},
		{"unknown host", fmt.Errorf("get: %w", &net.DNSError{Name: "nowhere.test", IsNotFound: true}), true},
		{"not found response", &TerminalItemError{ItemKey: "u", Err: errors.New("status 404")}, false},
		{"extraction", &ExtractionError{Processor: "pdf", Err: errors.New("bad xref")}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUnreachable(tt.err))
		})
	}
}

func TestTerminalItemError_Message(t *testing.T) {
	err := &TerminalItemError{ItemKey: "b.pdf", Err: errors.New("corrupt")}
	assert.Equal(t, "item b.pdf failed: corrupt", err.Error())

	err = &TerminalItemError{Err: errors.New("corrupt")}
	assert.Equal(t, "item failed: corrupt", err.Error())
}

func TestRequireTenant(t *testing.T) {
	assert.ErrorIs(t, RequireTenant(""), ErrMissingTenant)
	assert.ErrorIs(t, RequireTenant("   "), ErrMissingTenant)
	assert.NoError(t, RequireTenant("acme"))

	long := make([]byte, 129)
	for i := range long {
		long[i] = 'a'
	}
	assert.ErrorIs(t, RequireTenant(TenantID(long)), ErrInvalidInput)
}

func TestJobStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobPending, JobRunning, true},
		{JobPending, JobCancelled, true},
		{JobPending, JobSucceeded, false},
		{JobRunning, JobSucceeded, true},
		{JobRunning, JobFailed, true},
		{JobRunning, JobCancelled, true},
		{JobRunning, JobPending, false},
		{JobSucceeded, JobRunning, false},
		{JobFailed, JobRunning, false},
		{JobCancelled, JobPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}

	assert.True(t, JobFailed.IsTerminal())
	assert.False(t, JobRunning.IsTerminal())
	assert.True(t, JobPending.IsActive())
	assert.False(t, JobCancelled.IsActive())
}

func TestParseConnectorKind(t *testing.T) {
	k, err := ParseConnectorKind("restapi")
	assert.NoError(t, err)
	assert.Equal(t, ConnectorRestAPI, k)

	_, err = ParseConnectorKind("gopher")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
