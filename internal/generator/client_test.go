package generator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTasksSendsRequestAndParsesResponse(t *testing.T) {
	var got TaskRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"tasks":[
			{"title":"Build API","description":"REST layer","accountable_role":"CTO","responsible_role":"Engineer","activities":["design","code"]},
			{"title":"Write tests","accountableRole":"Lead","responsibleRole":"QA","activities":["unit",3,""]}
		]}`)
	}))
	defer server.Close()

	client := New(server.URL+"/", "secret", time.Second)
	tasks, err := client.GenerateTasks(context.Background(), TaskRequest{
		ProjectID:     "p1",
		PreviousStage: "business_innovation",
		NextStage:     "engineering",
		Project:       ProjectContext{Title: "Hubo"},
	})
	require.NoError(t, err)

	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, "engineering", got.NextStage)
	require.Len(t, tasks, 2)
	assert.Equal(t, ProposedTask{
		Title:           "Build API",
		Description:     "REST layer",
		AccountableRole: "CTO",
		ResponsibleRole: "Engineer",
		Activities:      []string{"design", "code"},
	}, tasks[0])
	assert.Equal(t, "Lead", tasks[1].AccountableRole)
	assert.Equal(t, "QA", tasks[1].ResponsibleRole)
	assert.Equal(t, []string{"unit"}, tasks[1].Activities)
}

func TestGenerateTasksNotConfigured(t *testing.T) {
	_, err := New("", "", 0).GenerateTasks(context.Background(), TaskRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGenerateTasksStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, "", time.Second).GenerateTasks(context.Background(), TaskRequest{})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.Contains(t, statusErr.Body, "model overloaded")
}

func TestGenerateTasksHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(server.URL, "", 5*time.Second).GenerateTasks(ctx, TaskRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseTasksShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{name: "top level array", body: `[{"title":"a"},{"title":"b"}]`, want: 2},
		{name: "nested data", body: `{"data":{"tasks":[{"title":"a"}]}}`, want: 1},
		{name: "drops untitled", body: `{"tasks":[{"title":"  "},{"description":"x"},{"title":"ok"}]}`, want: 1},
		{name: "no usable tasks", body: `{"tasks":[{"title":""}]}`, wantErr: true},
		{name: "empty list", body: `{"tasks":[]}`, wantErr: true},
		{name: "missing tasks", body: `{"result":"sorry"}`, wantErr: true},
		{name: "not json", body: `Sure! Here are your tasks`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := ParseTasks([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Len(t, tasks, tt.want)
		})
	}
}

func TestParseTasksCapsBatchSize(t *testing.T) {
	items := make([]string, 0, MaxTasks+10)
	for i := 0; i < MaxTasks+10; i++ {
		items = append(items, `{"title":"t"}`)
	}
	tasks, err := ParseTasks([]byte("[" + strings.Join(items, ",") + "]"))
	require.NoError(t, err)
	assert.Len(t, tasks, MaxTasks)
}

func TestGenerateIdeaUploadsFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ideas", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "voice", r.FormValue("source"))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "memo.webm", header.Filename)
		assert.Equal(t, "audio-bytes", string(data))
		_, _ = io.WriteString(w, `{"idea":{"title":"Smart bins","description":"Sensors in bins"}}`)
	}))
	defer server.Close()

	draft, err := New(server.URL, "", time.Second).GenerateIdea(context.Background(), IdeaRequest{
		Source:   "voice",
		Filename: "memo.webm",
		Content:  strings.NewReader("audio-bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, IdeaDraft{Title: "Smart bins", Description: "Sensors in bins"}, draft)
}

func TestChatReplyShapes(t *testing.T) {
	bodies := []string{
		`{"reply":"hello"}`,
		`{"message":{"role":"assistant","content":"hello"}}`,
		`{"choices":[{"message":{"content":"hello"}}]}`,
	}
	for _, body := range bodies {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		}))
		reply, err := New(server.URL, "", time.Second).Chat(context.Background(), ChatRequest{
			Messages: []ChatMessage{{Role: "user", Content: "hi"}},
		})
		server.Close()
		require.NoError(t, err, body)
		assert.Equal(t, "hello", reply)
	}
}

func TestChatEmptyReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"reply":""}`)
	}))
	defer server.Close()

	_, err := New(server.URL, "", time.Second).Chat(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
