package oxerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(KindUsage, "negative limit %d", -1)
	assert.Equal(t, "[USAGE] negative limit -1", err.Error())

	withCode := New(KindIntegrity, "duplicate key").WithBackendCode("23505")
	assert.Equal(t, "[INTEGRITY] duplicate key (backend 23505)", withCode.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindConnection, cause, "query failed")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindConnection, KindOf(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindBackend, KindOf(errors.New("raw")))
	assert.Equal(t, KindBuild, KindOf(fmt.Errorf("outer: %w", New(KindBuild, "bad arity"))))
	assert.True(t, IsKind(New(KindPoolTimeout, "slow"), KindPoolTimeout))
	assert.False(t, IsKind(New(KindPoolTimeout, "slow"), KindConfig))
}
