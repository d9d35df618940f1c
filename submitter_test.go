package mql

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitter(t *testing.T) {
	ctx := context.Background()

	t.Run("One call per submission", func(t *testing.T) {
		ft := &fakeTransport{submitID: "q-7"}
		s := NewSubmitter(ft)

		id, err := s.SubmitQuery(ctx, &QueryRequest{Metrics: []string{"bookings"}})
		require.NoError(t, err)
		assert.Equal(t, JobID("q-7"), id)

		_, err = s.SubmitMaterialization(ctx, &MaterializationRequest{Name: "daily"})
		require.NoError(t, err)
		_, err = s.SubmitValidation(ctx, &ValidationRequest{})
		require.NoError(t, err)
		assert.Equal(t, 3, ft.submits)
	})

	t.Run("Failure is a transport error and not retried", func(t *testing.T) {
		ft := &fakeTransport{submitErr: errors.New("connection reset")}
		s := NewSubmitter(ft)

		id, err := s.SubmitQuery(ctx, &QueryRequest{Metrics: []string{"bookings"}})
		assert.Empty(t, id)
		assert.Equal(t, KindTransport, KindOf(err))
		assert.ErrorContains(t, err, "connection reset")
		assert.Equal(t, 1, ft.submits)
	})

	t.Run("Classified errors pass through", func(t *testing.T) {
		ft := &fakeTransport{submitErr: &Error{Kind: KindProtocol, Message: "server returned an empty job id"}}
		_, err := NewSubmitter(ft).SubmitMaterialization(ctx, &MaterializationRequest{Name: "daily"})
		assert.Equal(t, KindProtocol, KindOf(err))
	})

	t.Run("Invalid requests make no call", func(t *testing.T) {
		ft := &fakeTransport{submitID: "x"}
		s := NewSubmitter(ft)

		_, err := s.SubmitQuery(ctx, nil)
		assert.Equal(t, KindInvalidState, KindOf(err))
		_, err = s.SubmitQuery(ctx, &QueryRequest{Dimensions: []string{"ds"}})
		assert.Equal(t, KindInvalidState, KindOf(err))
		_, err = s.SubmitMaterialization(ctx, &MaterializationRequest{})
		assert.Equal(t, KindInvalidState, KindOf(err))
		_, err = s.SubmitValidation(ctx, nil)
		assert.Equal(t, KindInvalidState, KindOf(err))
		assert.Zero(t, ft.submits)
	})
}
