package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersion_NonEmpty(t *testing.T) {
	require.NotEmpty(t, Version)
}
