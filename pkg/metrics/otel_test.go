package metrics_test

import (
	"context"
	"testing"

	"github.com/agromesh/fieldsync/pkg/metrics"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewClient(t *testing.T) {
	t.Parallel()

	meter := noop.NewMeterProvider().Meter("test")

	client, err := metrics.NewClient(meter)
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestInc(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		key   string
		value any
	}{
		{
			name:  "increments counter with int64",
			key:   metrics.CacheHitsTotal,
			value: int64(1),
		},
		{
			name:  "records gauge with int",
			key:   metrics.QueueDepth,
			value: 7,
		},
		{
			name:  "records histogram with float64",
			key:   metrics.DrainCycleSeconds,
			value: 0.25,
		},
		{
			name:  "ignores unknown key",
			key:   "unknown_instrument",
			value: int64(1),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			meter := noop.NewMeterProvider().Meter("test")

			client, err := metrics.NewClient(meter)
			require.NoError(t, err)

			require.NotPanics(t, func() {
				client.Inc(context.Background(), tc.key, tc.value, attribute.String("tier", "high"))
			})
		})
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	meter := noop.NewMeterProvider().Meter("test")

	client, err := metrics.NewClient(meter)
	require.NoError(t, err)
	require.NoError(t, client.Shutdown(context.Background()))
}
