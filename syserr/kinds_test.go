package syserr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindNamesUnique(t *testing.T) {
	seen := map[string]Kind{}

	for k := Kind(0); k < KindCount; k++ {
		name := k.String()
		require.NotEmpty(t, name)

		prev, dup := seen[name]
		require.False(t, dup, "kinds %d and %d share name %q", prev, k, name)

		seen[name] = k
	}
}

func TestParseKindRoundTrip(t *testing.T) {
	for k := Kind(0); k < KindCount; k++ {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, got)
	}

	_, err := ParseKind("no_such_kind")
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestKindMessages(t *testing.T) {
	for k := Kind(1); k < KindCount; k++ {
		require.NotEmpty(t, k.Message(), "kind %s has no caller-safe message", k)
	}
}

func TestKindSeverity(t *testing.T) {
	type testcase struct {
		kind Kind
		want Severity
	}

	cases := []testcase{
		{kind: InvalidArgument, want: SeverityNormal},
		{kind: FileNotFound, want: SeverityNormal},
		{kind: ResourceUnavailable, want: SeverityNormal},
		{kind: SecurityViolation, want: SeverityElevated},
		{kind: Internal, want: SeverityElevated},
	}

	for _, c := range cases {
		t.Run(c.kind.String(), func(t *testing.T) {
			require.Equal(t, c.want, c.kind.Severity())
		})
	}
}

func TestKindCode(t *testing.T) {
	require.Equal(t, uint64(0), Ok.Code())

	seen := map[uint64]struct{}{}

	for k := Kind(1); k < KindCount; k++ {
		code := k.Code()
		require.NotZero(t, code)

		_, dup := seen[code]
		require.False(t, dup, "kind %s reuses code %d", k, code)

		seen[code] = struct{}{}
	}
}

func TestKindOf(t *testing.T) {
	err := &Error{Kind: ResourceUnavailable}
	require.Equal(t, ResourceUnavailable, KindOf(err))

	wrapped := fmt.Errorf("failed to read block: %w", err)
	require.Equal(t, ResourceUnavailable, KindOf(wrapped))

	require.Equal(t, Internal, KindOf(errors.New("untagged")))
}
