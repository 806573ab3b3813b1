package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetviewai/pkg/domain"
)

const testBaseURL = "http://ollama.test:11434"

func newMockedClient(t *testing.T) *OllamaClient {
	t.Helper()
	httpClient := &http.Client{Timeout: GenerateTimeout}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewOllamaClient(testBaseURL+"/", WithHTTPClient(httpClient))
}

func TestInvokeSendsEncodedImage(t *testing.T) {
	client := newMockedClient(t)
	image := []byte{0x89, 'P', 'N', 'G'}

	var got ollamaGenerateRequest
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/api/generate",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, `{"error":"bad body"}`), nil
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"model":    got.Model,
				"response": "a quiet suburban street",
				"done":     true,
			})
		})

	res := client.Invoke(context.Background(), image, "describe", "llava:13b")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "a quiet suburban street", res.Text)
	assert.Equal(t, "llava:13b", res.Model)
	assert.GreaterOrEqual(t, res.DurationMS, int64(0))
	assert.Equal(t, "llava:13b", got.Model)
	assert.Equal(t, "describe", got.Prompt)
	assert.False(t, got.Stream)
	require.Len(t, got.Images, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(image), got.Images[0])
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestInvokeReportsUpstreamError(t *testing.T) {
	client := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/api/generate",
		httpmock.NewStringResponder(http.StatusNotFound, `{"error":"model 'nope' not found"}`))

	res := client.Invoke(context.Background(), []byte("x"), "p", "nope")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "model 'nope' not found")
	assert.Equal(t, "nope", res.Model)
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "failures must not be retried")
}

func TestInvokeReportsUndecodableBody(t *testing.T) {
	client := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/api/generate",
		httpmock.NewStringResponder(http.StatusOK, `{not json`))

	res := client.Invoke(context.Background(), []byte("x"), "p", "llava")

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestInvokeTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewOllamaClient(srv.URL, WithGenerateTimeout(50*time.Millisecond))
	res := client.Invoke(context.Background(), []byte("x"), "p", "llava")

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Less(t, res.DurationMS, int64(5000))
}

func TestCheckHealth(t *testing.T) {
	client := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/tags",
		httpmock.NewStringResponder(http.StatusOK, `{"models":[]}`))
	assert.True(t, client.CheckHealth(context.Background()))

	httpmock.Reset()
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/tags",
		httpmock.NewStringResponder(http.StatusInternalServerError, ``))
	assert.False(t, client.CheckHealth(context.Background()))
}

func TestCheckHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewOllamaClient(url)
	assert.False(t, client.CheckHealth(context.Background()))
	assert.Empty(t, client.ListModels(context.Background()))
}

func TestListModelsAndVisionFilter(t *testing.T) {
	client := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/tags",
		httpmock.NewStringResponder(http.StatusOK,
			`{"models":[{"name":"llava:13b"},{"name":"llama3:8b"},{"name":"Llama3.2-Vision:11b"}]}`))

	models := client.ListModels(context.Background())
	require.Equal(t, []string{"llava:13b", "llama3:8b", "Llama3.2-Vision:11b"}, models)
	assert.Equal(t, []string{"llava:13b", "Llama3.2-Vision:11b"}, VisionModels(models))
}

func TestListModelsNon200(t *testing.T) {
	client := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/tags",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, `{"error":"loading"}`))

	models := client.ListModels(context.Background())
	assert.NotNil(t, models)
	assert.Empty(t, models)
}

func TestPromptFor(t *testing.T) {
	for _, kind := range []domain.AnalysisKind{domain.KindDescription, domain.KindObjectDetection, domain.KindOCR} {
		prompt, ok := PromptFor(kind)
		assert.True(t, ok, kind)
		assert.NotEmpty(t, strings.TrimSpace(prompt), kind)
	}
	_, ok := PromptFor(domain.KindCustom)
	assert.False(t, ok)
	_, ok = PromptFor("bogus")
	assert.False(t, ok)

	prompt, _ := PromptFor(domain.KindObjectDetection)
	assert.Contains(t, prompt, "buildings, vehicles, street furniture, signs, vegetation, infrastructure")
}
