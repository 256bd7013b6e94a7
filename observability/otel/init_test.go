package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders("authorization=Bearer x, ,broken,=empty,team = riven")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "team": "riven"}, got)
}

func TestInitValidatesConfig(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)

	_, err = Init(context.Background(), Config{ServiceName: "presaled", SampleRatio: 2})
	require.Error(t, err)
}

func TestInitWithoutSignalsIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "presaled"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
