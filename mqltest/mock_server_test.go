package mqltest

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mql "github.com/transform-data/mql-go"
)

func TestMockServer_StatusProgression(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddQuery([]string{"bookings"}, &MockJobTemplate{PendingPolls: 1, RunningPolls: 2})

	client, err := mql.NewClient(mock.URL())
	require.NoError(t, err)
	ctx := context.Background()

	id, err := client.SubmitQuery(ctx, &mql.QueryRequest{Metrics: []string{"bookings"}})
	require.NoError(t, err)
	assert.Equal(t, mql.JobID("q-1"), id)

	var seen []mql.JobStatus
	for i := 0; i < 5; i++ {
		snapshot, err := client.GetQueryStatus(ctx, id)
		require.NoError(t, err)
		seen = append(seen, snapshot.Status)
	}
	assert.Equal(t, []mql.JobStatus{
		mql.StatusPending, mql.StatusRunning, mql.StatusRunning, mql.StatusSuccessful, mql.StatusSuccessful,
	}, seen)
	assert.Equal(t, 5, mock.StatusCalls(id))
}

func TestMockServer_Paging(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddQuery([]string{"bookings"}, &MockJobTemplate{
		Columns:  []mql.Column{{Name: "n", Type: "bigint"}},
		Data:     [][]any{{1}, {2}, {3}, {4}, {5}},
		PageSize: 2,
	})

	client, _ := mql.NewClient(mock.URL())
	ctx := context.Background()
	id, err := client.SubmitQuery(ctx, &mql.QueryRequest{Metrics: []string{"bookings"}})
	require.NoError(t, err)

	t.Run("Results before polling conflict", func(t *testing.T) {
		_, err := client.GetPage(ctx, id, 0)
		var errResp *mql.ErrorResponse
		require.ErrorAs(t, err, &errResp)
		assert.Equal(t, http.StatusConflict, errResp.StatusCode)
	})

	_, err = client.GetQueryStatus(ctx, id)
	require.NoError(t, err)

	t.Run("Cursor is the row offset", func(t *testing.T) {
		page, err := client.GetPage(ctx, id, 2)
		require.NoError(t, err)
		assert.Len(t, page.Rows, 2)
		require.True(t, page.HasMore())
		assert.Equal(t, 4, *page.NextCursor)

		last, err := client.GetPage(ctx, id, 4)
		require.NoError(t, err)
		assert.Len(t, last.Rows, 1)
		assert.False(t, last.HasMore())
	})

	t.Run("Cursor out of range", func(t *testing.T) {
		_, err := client.GetPage(ctx, id, 99)
		var errResp *mql.ErrorResponse
		require.ErrorAs(t, err, &errResp)
		assert.Equal(t, http.StatusBadRequest, errResp.StatusCode)
	})

	// Rejected cursors are recorded too.
	assert.Equal(t, []int{2, 4, 99}, mock.PageCursors(id))
}

func TestMockServer_Controls(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	client, _ := mql.NewClient(mock.URL())
	ctx := context.Background()

	t.Run("Unknown job is 404", func(t *testing.T) {
		snapshot, err := client.GetJobStatus(ctx, "m-404")
		require.NoError(t, err)
		assert.Equal(t, mql.StatusUnknown, snapshot.Status)
	})

	t.Run("Default materialization location", func(t *testing.T) {
		id, err := client.SubmitMaterialization(ctx, &mql.MaterializationRequest{Name: "daily"})
		require.NoError(t, err)
		loc, err := client.GetMaterializationLocation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "mql_materializations."+string(id), loc.FullName())
	})

	t.Run("API key", func(t *testing.T) {
		mock.RequireAPIKey("secret")
		defer mock.RequireAPIKey("")

		_, err := client.Health(ctx)
		assert.ErrorContains(t, err, "401")

		info, err := client.APIKey("secret").Health(ctx)
		require.NoError(t, err)
		assert.True(t, info.Healthy())
	})

	t.Run("Failed submissions are counted", func(t *testing.T) {
		before := mock.Submissions()
		mock.FailSubmissions(http.StatusInternalServerError)
		defer mock.FailSubmissions(0)

		_, err := client.SubmitValidation(ctx, &mql.ValidationRequest{})
		assert.Error(t, err)
		assert.Equal(t, before+1, mock.Submissions())
	})
}
