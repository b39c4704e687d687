package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		sub  Subscription
		want Disposition
	}{
		{
			name: "sub scope waits for event",
			sub:  Subscription{SubScopeID: Ptr("plan-1"), ScopeID: Ptr("case-1"), ScopeDefinitionID: Ptr("def-1")},
			want: Resume("plan-1"),
		},
		{
			name: "sub scope alone",
			sub:  Subscription{SubScopeID: Ptr("plan-1")},
			want: Resume("plan-1"),
		},
		{
			name: "definition level start",
			sub:  Subscription{ScopeDefinitionID: Ptr("def-1")},
			want: StartNew("def-1"),
		},
		{
			name: "scope bound without sub scope is inert",
			sub:  Subscription{ScopeID: Ptr("case-1"), ScopeDefinitionID: Ptr("def-1")},
			want: Inert(),
		},
		{
			name: "scope only is inert",
			sub:  Subscription{ScopeID: Ptr("case-1")},
			want: Inert(),
		},
		{
			name: "nothing set is inert",
			sub:  Subscription{},
			want: Inert(),
		},
		{
			name: "empty strings count as unset",
			sub:  Subscription{SubScopeID: Ptr(""), ScopeID: Ptr(""), ScopeDefinitionID: Ptr("def-2")},
			want: StartNew("def-2"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.sub))
		})
	}
}

func TestDispositionKind_String(t *testing.T) {
	assert.Equal(t, "resume", DispositionResume.String())
	assert.Equal(t, "start_new", DispositionStartNew.String())
	assert.Equal(t, "inert", DispositionInert.String())
}
