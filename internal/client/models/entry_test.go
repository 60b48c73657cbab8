package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFields_OK(t *testing.T) {
	fields, err := ParseFields([]string{"a=1", "b=two", "empty="})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "two", "empty": ""}, fields)
}

func TestParseFields_ErrorOnMalformed(t *testing.T) {
	for _, in := range [][]string{{"justname"}, {"=value"}, {"a=b=c"}} {
		_, err := ParseFields(in)
		require.ErrorIs(t, err, ErrIncorrectField, "%v", in)
	}
}
