package capability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goAccount/capability"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		template string
		params   map[string]string
		want     string
		wantErr  error
	}{
		{
			name:     "single placeholder",
			template: "user-{userId}:*",
			params:   map[string]string{"userId": "01HX"},
			want:     "user-01HX:*",
		},
		{
			name:     "multiple placeholders",
			template: "group-{groupId}:read-membership-{membershipId}",
			params:   map[string]string{"groupId": "g1", "membershipId": "m9"},
			want:     "group-g1:read-membership-m9",
		},
		{
			name:     "no placeholder",
			template: "admin:*",
			want:     "admin:*",
		},
		{
			name:     "unknown placeholder",
			template: "user-{userId}:*",
			params:   map[string]string{"groupId": "g1"},
			wantErr:  capability.ErrUnknownPlaceholder,
		},
		{
			name:     "unclosed brace",
			template: "user-{userId:*",
			params:   map[string]string{"userId": "u"},
			wantErr:  capability.ErrUnbalancedTemplate,
		},
		{
			name:     "stray closing brace",
			template: "user-}userId:*",
			wantErr:  capability.ErrUnbalancedTemplate,
		},
		{
			name:     "value injecting wildcard",
			template: "user-{userId}:*",
			params:   map[string]string{"userId": "*"},
			wantErr:  capability.ErrInvalidParamValue,
		},
		{
			name:     "value injecting separator",
			template: "user-{userId}:read",
			params:   map[string]string{"userId": "a:b"},
			wantErr:  capability.ErrInvalidParamValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := capability.Resolve(tt.template, tt.params)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name     string
		claims   []string
		required string
		want     bool
	}{
		{"exact", []string{"user-1:write-merge"}, "user-1:write-merge", true},
		{"segment wildcard", []string{"user-1:*"}, "user-1:write-merge", true},
		{"prefix wildcard", []string{"user-1:read-session-*"}, "user-1:read-session-abc", true},
		{"other user", []string{"user-1:*"}, "user-2:write-merge", false},
		{"star does not cross separator", []string{"user-*"}, "user-1:write-merge", false},
		{"invalid claim ignored", []string{"user-[1:*"}, "user-1:write-merge", false},
		{"empty required", []string{"user-1:*"}, "", false},
		{"no claims", nil, "user-1:write-merge", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, capability.Satisfies(tt.claims, tt.required))
		})
	}
}

func TestSetSkipsInvalidPatterns(t *testing.T) {
	set := capability.Compile([]string{"", "user-[1:*", "user-1:*"})
	assert.Equal(t, 1, set.Len())
	assert.Equal(t, []string{"user-1:*"}, set.Patterns())
	assert.True(t, set.Allows("user-1:read-session-x"))

	var zero capability.Set
	assert.False(t, zero.Allows("user-1:read-session-x"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"userId"}, capability.Placeholders("user-{userId}:write-merge"))
	assert.Equal(t, []string{"groupId", "membershipId"},
		capability.Placeholders("group-{groupId}:read-membership-{membershipId}"))
	assert.Empty(t, capability.Placeholders("user-1:*"))
	assert.Empty(t, capability.Placeholders("user-{userId:*"))
}
