package daemonctl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	prereq := &PrerequisiteError{What: "multipassd", Hint: "build it first", Err: errors.New("not found")}
	assert.ErrorIs(t, prereq, ErrPrerequisite)
	assert.Equal(t, "daemonctl: prerequisite missing: multipassd: not found (build it first)", prereq.Error())

	launch := &LaunchError{Variant: VariantServiceUnit, Err: errors.New("exit status 5")}
	assert.ErrorIs(t, launch, ErrLaunch)
	assert.Contains(t, launch.Error(), "service-unit")

	mismatch := &VersionMismatchError{Client: "1.16.0", Daemon: "1.15.0"}
	assert.ErrorIs(t, mismatch, ErrVersionMismatch)
	assert.Contains(t, mismatch.Error(), "client is newer")

	fatal := &SessionFatalError{Msg: "readiness probe", Err: ErrUnauthenticated}
	assert.ErrorIs(t, fatal, ErrSessionFatal)
	assert.ErrorIs(t, fatal, ErrUnauthenticated)
	assert.NotErrorIs(t, fatal, ErrTestCaseFatal)

	testCase := &TestCaseFatalError{Msg: "daemon died with code 3"}
	assert.ErrorIs(t, testCase, ErrTestCaseFatal)
	assert.NotErrorIs(t, testCase, ErrSessionFatal)
}

func TestOpErrorOutput(t *testing.T) {
	err := &OpError{Op: "bootstrap", Target: "system/com.example", Output: "  Bootstrap failed: 5\n", Err: errors.New("exit status 5")}
	assert.Equal(t, `daemonctl bootstrap "system/com.example": exit status 5 (output: Bootstrap failed: 5)`, err.Error())
}

func TestMultiError(t *testing.T) {
	merr := &MultiError{}
	merr.Add(nil)
	require.NoError(t, merr.Err())

	first := errors.New("first")
	merr.Add(first)
	assert.Equal(t, "first", merr.Error())

	merr.Add(&PrerequisiteError{What: "sudo"})
	assert.Contains(t, merr.Error(), "2 errors occurred")
	assert.ErrorIs(t, merr.Err(), first)
	assert.ErrorIs(t, merr.Err(), ErrPrerequisite)
}
