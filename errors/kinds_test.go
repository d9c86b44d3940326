package errors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", New("boom"), KindUnknown},
		{"init", NewInit("missing table %s", "incident"), KindInit},
		{"exec", WrapExec(New("connection reset"), "read keys"), KindExec},
		{"model", WrapModel(New("locked"), "update job"), KindModel},
		{"invariant", NewInvariant("duplicate keys"), KindInvariant},
		{"protocol is exec", NewProtocol("count mismatch"), KindExec},
		{"load limit is exec", NewLoadLimitExceeded("incident", 10), KindExec},
		{"context canceled", context.Canceled, KindCancellation},
		{"wrapped deadline", Wrap(context.DeadlineExceeded, "chunk"), KindCancellation},
		{"cancelled", Cancelled(context.Canceled), KindCancellation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWrapExecKeepsClassification(t *testing.T) {
	cancelled := WrapExec(Cancelled(nil), "next chunk")
	assert.True(t, IsCancellation(cancelled))
	assert.False(t, IsExec(cancelled))

	broken := WrapExec(NewInvariant("processed 3 of 4"), "write chunk")
	assert.True(t, IsInvariant(broken))
	assert.False(t, IsExec(broken))
}

func TestWrapHelpersNil(t *testing.T) {
	assert.Nil(t, WrapExec(nil, "x"))
	assert.Nil(t, WrapInit(nil, "x"))
	assert.Nil(t, WrapModel(nil, "x"))
}

func TestCheckContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, CheckContext(ctx))

	cancel()
	err := CheckContext(ctx)
	require.Error(t, err)
	assert.True(t, IsCancellation(err))
}

func TestLoadLimitExceeded(t *testing.T) {
	err := NewLoadLimitExceeded("cmdb_ci", 500)
	assert.True(t, IsLoadLimitExceeded(err))
	assert.True(t, IsExec(err))
	assert.Contains(t, err.Error(), "cmdb_ci")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
	assert.Equal(t, "init: bad target", Describe(NewInit("bad target")))
}
