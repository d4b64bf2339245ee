package browseruse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTask_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/run-task", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req["task"], "find plumbers")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "task-1"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	id, err := client.RunTask(context.Background(), "find plumbers in Brooklyn and return JSON")

	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
}

func TestRunTask_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"detail":"out of credits"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.RunTask(context.Background(), "anything")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
}

func TestGetTask_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/task/task-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "task-1", "status": "finished", "output": "[{\"name\":\"Joe's\"}]"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	task, err := client.GetTask(context.Background(), "task-1")

	require.NoError(t, err)
	assert.Equal(t, StatusFinished, task.Status)
	assert.True(t, task.Done())
	assert.Contains(t, task.Output, "Joe's")
}

func TestTask_Done(t *testing.T) {
	t.Parallel()
	assert.False(t, (&Task{Status: StatusCreated}).Done())
	assert.False(t, (&Task{Status: StatusRunning}).Done())
	assert.True(t, (&Task{Status: StatusFinished}).Done())
	assert.True(t, (&Task{Status: StatusFailed}).Done())
	assert.True(t, (&Task{Status: StatusStopped}).Done())
}

func TestPollTask_FinishesAfterRunning(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n < 3 {
			w.Write([]byte(`{"id": "task-1", "status": "running"}`))
			return
		}
		w.Write([]byte(`{"id": "task-1", "status": "finished", "output": "done"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	task, err := PollTask(context.Background(), client, "task-1",
		WithPollInterval(10*time.Millisecond), WithPollCap(20*time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, "done", task.Output)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollTask_Failed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "task-1", "status": "failed"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := PollTask(context.Background(), client, "task-1", WithPollInterval(10*time.Millisecond))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestPollTask_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "task-1", "status": "running"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := PollTask(context.Background(), client, "task-1",
		WithPollInterval(10*time.Millisecond), WithPollTimeout(50*time.Millisecond))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	c := NewClient("my-key")
	hc := c.(*httpClient)
	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, "https://api.browser-use.com/api/v1", hc.baseURL)
	assert.NotNil(t, hc.http)
}
