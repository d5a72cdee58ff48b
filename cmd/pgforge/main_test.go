package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCounts(t *testing.T) {
	cases := []struct {
		In    string
		Sync  int
		Async int
		Bad   bool
	}{
		{In: "1:1", Sync: 1, Async: 1},
		{In: "0:0", Sync: 0, Async: 0},
		{In: "3:12", Sync: 3, Async: 12},
		{In: "-1:2", Sync: -1, Async: 2},
		{In: "11", Bad: true},
		{In: "a:b", Bad: true},
		{In: "1:", Bad: true},
		{In: ":1", Bad: true},
	}

	for _, tc := range cases {
		t.Run(tc.In, func(t *testing.T) {
			syncCount, asyncCount, err := parseCounts(tc.In)
			if tc.Bad {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.Sync, syncCount)
			require.Equal(t, tc.Async, asyncCount)
		})
	}
}
