package mockapi_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kiranshivaraju/vidqueue/internal/mockapi"
	"github.com/kiranshivaraju/vidqueue/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, opts mockapi.Options) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(mockapi.New(opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/v1/chat/completions", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCompletions_StreamsSteps(t *testing.T) {
	ts := serve(t, mockapi.Options{})

	resp := post(t, ts.URL, `{"model":"sora-video-10s","stream":true,"messages":[{"role":"user","content":"x"}]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "data: [DONE]\n\n"))

	events, carry := stream.Decode("", string(raw))
	assert.Equal(t, "", carry)

	want := mockapi.DefaultSteps(ts.URL + "/files/sample.mp4")
	require.Len(t, events, len(want))
	for i, ev := range events {
		assert.Equal(t, want[i], ev.Value)
	}

	progress := []int{}
	for _, ev := range events {
		if p, ok := stream.ExtractProgress(ev.Value); ok {
			progress = append(progress, p)
		}
	}
	assert.Equal(t, []int{9, 20, 45, 80, 98}, progress)

	url, ok := stream.ExtractVideoURL(events[len(events)-1].Value)
	require.True(t, ok)
	assert.Equal(t, ts.URL+"/files/sample.mp4", url)
}

func TestCompletions_CustomStepsAndURL(t *testing.T) {
	ts := serve(t, mockapi.Options{Steps: []string{"only\n"}})

	raw, err := io.ReadAll(post(t, ts.URL, `{"model":"m"}`).Body)
	require.NoError(t, err)

	events, _ := stream.Decode("", string(raw))
	require.Len(t, events, 1)
	assert.Equal(t, "only\n", events[0].Value)

	ts = serve(t, mockapi.Options{VideoURL: "https://cdn.example.com/x.webm"})
	raw, err = io.ReadAll(post(t, ts.URL, `{"model":"m"}`).Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "https://cdn.example.com/x.webm")
}

func TestCompletions_RejectsInvalidJSON(t *testing.T) {
	ts := serve(t, mockapi.Options{})
	resp := post(t, ts.URL, `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompletions_CORSPreflight(t *testing.T) {
	ts := serve(t, mockapi.Options{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/v1/chat/completions", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestFile_ServesContent(t *testing.T) {
	ts := serve(t, mockapi.Options{})

	resp, err := http.Get(ts.URL + "/files/sample.mp4")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(mockapi.FileContent(), got))
}

func TestFile_UnknownRoute(t *testing.T) {
	ts := serve(t, mockapi.Options{})

	resp, err := http.Get(ts.URL + "/files/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
