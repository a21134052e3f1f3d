package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserAccountID_RoundTrip(t *testing.T) {
	owner := uuid.MustParse("3f2f8c1e-9a64-4d7b-8a1c-0f5e6d2b4a90")

	subtypes := []AccountSubtype{
		SubtypeWallet, SubtypeDeposit, SubtypeWithdrawal, SubtypeHouse, SubtypeSystem,
	}
	for _, st := range subtypes {
		id := UserAccountID(owner, st)
		assert.Equal(t, "user:3f2f8c1e-9a64-4d7b-8a1c-0f5e6d2b4a90:"+string(st), id)

		gotOwner, gotSubtype, ok := ParseAccountID(id)
		require.True(t, ok, "round trip for %s", st)
		assert.Equal(t, owner, gotOwner)
		assert.Equal(t, st, gotSubtype)
	}
}

func TestUserAccountID_Deterministic(t *testing.T) {
	owner := uuid.New()
	assert.Equal(t, UserAccountID(owner, SubtypeWallet), UserAccountID(owner, SubtypeWallet))
}

func TestParseAccountID_Malformed(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"too few segments", "user:abc"},
		{"too many segments", "user:a:b:c"},
		{"wrong prefix", "acct:3f2f8c1e-9a64-4d7b-8a1c-0f5e6d2b4a90:wallet"},
		{"non-uuid owner", "user:not-a-uuid:wallet"},
		{"empty subtype", "user:3f2f8c1e-9a64-4d7b-8a1c-0f5e6d2b4a90:"},
		{"legacy numeric id", "42"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, ok := ParseAccountID(tc.id)
			assert.False(t, ok)
		})
	}
}
