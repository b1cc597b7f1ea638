package timezone

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetect_UsesTZ(t *testing.T) {
	t.Setenv("TZ", "Europe/Zurich")
	require.Equal(t, "Europe/Zurich", Detect())
}

func TestDetect_IgnoresUnknownTZ(t *testing.T) {
	t.Setenv("TZ", "Not/AZone")
	require.NotEqual(t, "Not/AZone", Detect())
	require.NotEmpty(t, Detect())
}

func TestFixed(t *testing.T) {
	require.Equal(t, "Asia/Tokyo", Fixed("Asia/Tokyo")())
}
