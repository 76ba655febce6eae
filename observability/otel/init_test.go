package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization=Bearer abc , x-team = vouchers,,broken, =nokey")
	require.Equal(t, map[string]string{
		"authorization": "Bearer abc",
		"x-team":        "vouchers",
	}, got)
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "voucherd", Environment: "test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
