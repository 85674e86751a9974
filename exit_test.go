package daemonctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitPolicyClassify(t *testing.T) {
	policy := DefaultExitPolicy()
	signalled := ExitStatus{Code: -15, Known: true, Signaled: true}

	tests := []struct {
		name     string
		status   ExitStatus
		graceful bool
		want     ExitClass
	}{
		{"graceful clean", ExitedWith(0), true, ExitClean},
		{"graceful signalled", signalled, true, ExitClean},
		{"settings changed", ExitedWith(42), false, ExitRestart},
		{"settings changed while stopping", ExitedWith(42), true, ExitRestart},
		{"session fatal", ExitedWith(1), false, ExitSessionFatal},
		{"session fatal while stopping", ExitedWith(1), true, ExitSessionFatal},
		{"other code", ExitedWith(3), false, ExitTestCaseFatal},
		{"unrequested clean exit", ExitedWith(0), false, ExitTestCaseFatal},
		{"unrequested signal", signalled, false, ExitTestCaseFatal},
		{"unknown", UnknownExit, false, ExitUnknown},
		{"unknown while stopping", UnknownExit, true, ExitUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Classify(tt.status, tt.graceful))
		})
	}
}

func TestExitPolicyCustomCodes(t *testing.T) {
	policy := ExitPolicy{RestartCode: 7, SessionFatalCodes: []int{2, 9}}

	assert.Equal(t, ExitRestart, policy.Classify(ExitedWith(7), false))
	assert.Equal(t, ExitSessionFatal, policy.Classify(ExitedWith(9), false))
	assert.Equal(t, ExitTestCaseFatal, policy.Classify(ExitedWith(1), false))
	assert.Equal(t, ExitTestCaseFatal, policy.Classify(ExitedWith(42), false))
}

func TestExitStatusString(t *testing.T) {
	assert.Equal(t, "unknown", UnknownExit.String())
	assert.Equal(t, "42", ExitedWith(42).String())
	assert.Equal(t, "signal 9", ExitStatus{Code: -9, Known: true, Signaled: true}.String())
	assert.Equal(t, "test-case-fatal", ExitTestCaseFatal.String())
}
