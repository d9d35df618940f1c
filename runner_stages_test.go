package mql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tinyBackoff = BackoffPolicy{Seed: 5 * time.Millisecond, Factor: 1, Ceiling: 5 * time.Millisecond}

func TestRunner_TimedOutStatusCarriesElapsed(t *testing.T) {
	ft := &fakeTransport{submitID: "q-1", statuses: []JobStatus{StatusRunning, StatusTimedOut}}
	r := NewRunner(ft, WithBackoff(JobKindQuery, tinyBackoff))

	_, err := r.Await(context.Background(), JobKindQuery, "q-1", time.Second)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindTimeoutExceeded, e.Kind)
	assert.GreaterOrEqual(t, e.Elapsed, 5*time.Millisecond)
	assert.Equal(t, 2, ft.calls())
}

func TestRunner_Location(t *testing.T) {
	ctx := context.Background()

	t.Run("Nil location is a protocol error", func(t *testing.T) {
		ft := &fakeTransport{submitID: "m-1", statuses: []JobStatus{StatusSuccessful}, nilLocation: true}
		r := NewRunner(ft, WithBackoff(JobKindMaterialization, tinyBackoff))

		var loc *MaterializationLocation
		var err error
		require.NotPanics(t, func() {
			loc, err = r.RunMaterialization(ctx, &MaterializationRequest{Name: "daily"}, time.Second)
		})
		assert.Nil(t, loc)
		assert.Equal(t, KindProtocol, KindOf(err))
		assert.ErrorContains(t, err, "m-1")
	})

	t.Run("Transport failure", func(t *testing.T) {
		ft := &fakeTransport{}
		_, err := NewRunner(ft).Location(ctx, "m-2")
		assert.Equal(t, KindTransport, KindOf(err))
	})

	t.Run("Detached lookup", func(t *testing.T) {
		ft := &fakeTransport{location: &MaterializationLocation{Schema: "analytics", Table: "daily"}}
		loc, err := NewRunner(ft).Location(ctx, "m-3")
		require.NoError(t, err)
		assert.Equal(t, "analytics.daily", loc.FullName())
	})
}
