package mql_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mql "github.com/transform-data/mql-go"
	"github.com/transform-data/mql-go/mqltest"
)

var fastBackoff = mql.BackoffPolicy{Seed: 5 * time.Millisecond, Factor: 1.5, Ceiling: 20 * time.Millisecond}

func newTestRunner(t *testing.T) (*mqltest.MockServer, *mql.Client, *mql.Runner) {
	t.Helper()
	mock := mqltest.NewMockServer()
	t.Cleanup(mock.Close)

	client, err := mql.NewClient(mock.URL())
	require.NoError(t, err)
	client.RetryDelay(time.Millisecond)

	runner := mql.NewRunner(client,
		mql.WithBackoff(mql.JobKindQuery, fastBackoff),
		mql.WithBackoff(mql.JobKindMaterialization, fastBackoff),
		mql.WithBackoff(mql.JobKindValidation, fastBackoff),
	)
	return mock, client, runner
}

var bookingsColumns = []mql.Column{{Name: "ds", Type: "date"}, {Name: "bookings", Type: "bigint"}}

func TestRunner_RunQuery(t *testing.T) {
	mock, _, runner := newTestRunner(t)
	mock.AddQuery([]string{"bookings"}, &mqltest.MockJobTemplate{
		PendingPolls: 1,
		RunningPolls: 1,
		Warnings:     []string{"slow join"},
		Columns:      bookingsColumns,
		Data:         [][]any{{"2024-01-01", 10}, {"2024-01-02", 12}},
	})

	table, warnings, err := runner.RunQuery(context.Background(), &mql.QueryRequest{
		Metrics:    []string{"bookings"},
		Dimensions: []string{"ds"},
	}, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, []string{"slow join"}, warnings)
	assert.Equal(t, []string{"ds", "bookings"}, table.ColumnNames())
	require.Equal(t, 2, table.Len())
	// JSON numbers decode as float64.
	assert.Equal(t, mql.Row{"2024-01-02", float64(12)}, table.Rows[1])

	assert.Equal(t, 1, mock.Submissions())
	assert.Equal(t, 3, mock.StatusCalls("q-1"))
	assert.Equal(t, []int{0}, mock.PageCursors("q-1"))
}

func TestRunner_RunQuery_Paged(t *testing.T) {
	mock, _, runner := newTestRunner(t)
	data := make([][]any, 7)
	for i := range data {
		data[i] = []any{fmt.Sprintf("2024-01-%02d", i+1), i}
	}
	mock.AddQuery([]string{"bookings"}, &mqltest.MockJobTemplate{
		Columns:  bookingsColumns,
		Data:     data,
		PageSize: 3,
	})

	table, _, err := runner.RunQuery(context.Background(), &mql.QueryRequest{Metrics: []string{"bookings"}}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, table.Len())
	assert.Equal(t, "2024-01-07", table.Rows[6][0])
	assert.Equal(t, []int{0, 3, 6}, mock.PageCursors("q-1"))
}

func TestRunner_RunQuery_EmptyResult(t *testing.T) {
	mock, _, runner := newTestRunner(t)
	mock.AddQuery([]string{"bookings"}, &mqltest.MockJobTemplate{Columns: bookingsColumns})

	table, warnings, err := runner.RunQuery(context.Background(), &mql.QueryRequest{Metrics: []string{"bookings"}}, time.Second)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, bookingsColumns, table.Columns)
	assert.NotNil(t, table.Rows)
	assert.Zero(t, table.Len())
}

func TestRunner_RunQuery_Failures(t *testing.T) {
	t.Run("Server failure carries job id and message", func(t *testing.T) {
		mock, _, runner := newTestRunner(t)
		mock.AddQuery([]string{"revenue"}, &mqltest.MockJobTemplate{
			RunningPolls: 1,
			Status:       mql.StatusFailed,
			Error:        "metric revenue is not defined",
		})

		_, _, err := runner.RunQuery(context.Background(), &mql.QueryRequest{Metrics: []string{"revenue"}}, time.Second)
		require.Error(t, err)
		assert.True(t, errors.Is(err, mql.ErrQueryRuntime))
		assert.Contains(t, err.Error(), "q-1")
		assert.Contains(t, err.Error(), "metric revenue is not defined")
		assert.Empty(t, mock.PageCursors("q-1"))
	})

	t.Run("Crash without message", func(t *testing.T) {
		mock, _, runner := newTestRunner(t)
		mock.AddQuery([]string{"revenue"}, &mqltest.MockJobTemplate{Status: mql.StatusUnhandledException})

		_, _, err := runner.RunQuery(context.Background(), &mql.QueryRequest{Metrics: []string{"revenue"}}, time.Second)
		assert.Equal(t, mql.KindQueryRuntime, mql.KindOf(err))
		assert.Contains(t, err.Error(), "q-1")
	})

	t.Run("Timeout leaves job running on server", func(t *testing.T) {
		mock, _, runner := newTestRunner(t)
		mock.AddQuery([]string{"bookings"}, &mqltest.MockJobTemplate{RunningPolls: 1000})

		start := time.Now()
		_, _, err := runner.RunQuery(context.Background(), &mql.QueryRequest{Metrics: []string{"bookings"}}, 100*time.Millisecond)
		elapsed := time.Since(start)

		require.Error(t, err)
		assert.True(t, errors.Is(err, mql.ErrTimeoutExceeded))
		assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
		assert.Less(t, elapsed, 2*time.Second)
		assert.Empty(t, mock.PageCursors("q-1"))
	})

	t.Run("Rejected submission is not retried", func(t *testing.T) {
		mock, _, runner := newTestRunner(t)
		mock.FailSubmissions(http.StatusServiceUnavailable)

		_, _, err := runner.RunQuery(context.Background(), &mql.QueryRequest{Metrics: []string{"bookings"}}, time.Second)
		require.Error(t, err)
		assert.Equal(t, mql.KindTransport, mql.KindOf(err))
		assert.Equal(t, 1, mock.Submissions())

		var resp *mql.ErrorResponse
		require.True(t, errors.As(err, &resp))
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("Bad credentials", func(t *testing.T) {
		mock, client, runner := newTestRunner(t)
		mock.RequireAPIKey("secret")
		client.APIKey("wrong")

		_, _, err := runner.RunQuery(context.Background(), &mql.QueryRequest{Metrics: []string{"bookings"}}, time.Second)
		assert.Equal(t, mql.KindTransport, mql.KindOf(err))
		assert.Contains(t, err.Error(), "401")
	})

	t.Run("Invalid request never reaches the server", func(t *testing.T) {
		mock, _, runner := newTestRunner(t)

		_, _, err := runner.RunQuery(context.Background(), &mql.QueryRequest{}, time.Second)
		assert.Equal(t, mql.KindInvalidState, mql.KindOf(err))
		assert.Zero(t, mock.Submissions())
	})
}

func TestRunner_RunMaterialization(t *testing.T) {
	t.Run("Success returns location", func(t *testing.T) {
		mock, _, runner := newTestRunner(t)
		mock.AddMaterialization("daily_bookings", &mqltest.MockJobTemplate{
			RunningPolls: 2,
			Location:     &mql.MaterializationLocation{Schema: "analytics", Table: "daily_bookings"},
		})

		loc, err := runner.RunMaterialization(context.Background(), &mql.MaterializationRequest{Name: "daily_bookings"}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "analytics.daily_bookings", loc.FullName())
		assert.Equal(t, 3, mock.StatusCalls("m-1"))
	})

	t.Run("Failure", func(t *testing.T) {
		mock, _, runner := newTestRunner(t)
		mock.AddMaterialization("daily_bookings", &mqltest.MockJobTemplate{Status: mql.StatusFailed, Error: "OOM"})

		_, err := runner.RunMaterialization(context.Background(), &mql.MaterializationRequest{Name: "daily_bookings"}, time.Second)
		require.Error(t, err)
		assert.Equal(t, mql.KindQueryRuntime, mql.KindOf(err))
		assert.Contains(t, err.Error(), "m-1")
		assert.Contains(t, err.Error(), "OOM")
	})

	t.Run("Missing name", func(t *testing.T) {
		_, _, runner := newTestRunner(t)
		_, err := runner.RunMaterialization(context.Background(), &mql.MaterializationRequest{}, time.Second)
		assert.Equal(t, mql.KindInvalidState, mql.KindOf(err))
	})
}

func TestRunner_RunValidation(t *testing.T) {
	t.Run("Warnings are returned", func(t *testing.T) {
		mock, _, runner := newTestRunner(t)
		mock.SetValidation(&mqltest.MockJobTemplate{PendingPolls: 1, Warnings: []string{"dimension ds has no description"}})

		warnings, err := runner.RunValidation(context.Background(), &mql.ValidationRequest{}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, []string{"dimension ds has no description"}, warnings)
	})

	t.Run("Invalid model", func(t *testing.T) {
		mock, _, runner := newTestRunner(t)
		mock.SetValidation(&mqltest.MockJobTemplate{Status: mql.StatusFailed, Error: "metric bookings references unknown measure"})

		_, err := runner.RunValidation(context.Background(), &mql.ValidationRequest{}, time.Second)
		assert.Equal(t, mql.KindQueryRuntime, mql.KindOf(err))
		assert.Contains(t, err.Error(), "unknown measure")
	})
}

func TestRunner_ExpiredJob(t *testing.T) {
	mock, client, runner := newTestRunner(t)

	id, err := runner.Submitter().SubmitQuery(context.Background(), &mql.QueryRequest{Metrics: []string{"bookings"}})
	require.NoError(t, err)
	mock.ExpireJob(id)

	snapshot, err := client.GetQueryStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, mql.StatusUnknown, snapshot.Status)

	_, err = runner.Await(context.Background(), mql.JobKindQuery, id, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mql.ErrJobNotFound))
	assert.False(t, errors.Is(err, mql.ErrQueryRuntime))
}

func TestRunner_Detached(t *testing.T) {
	mock, _, runner := newTestRunner(t)
	mock.AddQuery([]string{"bookings"}, &mqltest.MockJobTemplate{
		RunningPolls: 2,
		Columns:      bookingsColumns,
		Data:         [][]any{{"2024-01-01", 10}},
	})

	id, err := runner.Submitter().SubmitQuery(context.Background(), &mql.QueryRequest{Metrics: []string{"bookings"}})
	require.NoError(t, err)

	// A second client only knows the job id.
	other, err := mql.NewClient(mock.URL())
	require.NoError(t, err)
	resumed := mql.NewRunner(other, mql.WithBackoff(mql.JobKindQuery, fastBackoff))

	snapshot, err := resumed.Await(context.Background(), mql.JobKindQuery, id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, mql.StatusSuccessful, snapshot.Status)

	table, err := resumed.Pager().FetchAll(context.Background(), snapshot)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
}

func TestRunner_Canceled(t *testing.T) {
	mock, _, runner := newTestRunner(t)
	mock.AddQuery([]string{"bookings"}, &mqltest.MockJobTemplate{RunningPolls: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, _, err := runner.RunQuery(ctx, &mql.QueryRequest{Metrics: []string{"bookings"}}, 10*time.Second)
	require.Error(t, err)
	assert.Equal(t, mql.KindCanceled, mql.KindOf(err))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunner_ConcurrentLifecycles(t *testing.T) {
	mock, _, runner := newTestRunner(t)
	for i := 0; i < 8; i++ {
		metric := fmt.Sprintf("metric_%d", i)
		mock.AddQuery([]string{metric}, &mqltest.MockJobTemplate{
			RunningPolls: i % 3,
			Columns:      []mql.Column{{Name: metric, Type: "bigint"}},
			Data:         [][]any{{i}},
		})
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	tables := make([]*mql.Table, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tables[i], _, errs[i] = runner.RunQuery(context.Background(), &mql.QueryRequest{
				Metrics: []string{fmt.Sprintf("metric_%d", i)},
			}, 5*time.Second)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{fmt.Sprintf("metric_%d", i)}, tables[i].ColumnNames())
		assert.Equal(t, mql.Row{float64(i)}, tables[i].Rows[0])
	}
	assert.Equal(t, 8, mock.Submissions())
}
