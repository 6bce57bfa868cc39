package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	speech "google.golang.org/api/speech/v1"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
)

// newTestTranscriber points the Speech client at a stub HTTP endpoint.
// submitBody answers the longrunningrecognize call; poll answers the
// operation polls in order, repeating the last entry.
func newTestTranscriber(t *testing.T, submitBody string, poll []func(w http.ResponseWriter)) *SpeechTranscriber {
	t.Helper()

	var polls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "longrunningrecognize") {
			w.Write([]byte(submitBody))
			return
		}
		i := polls
		if i >= len(poll) {
			i = len(poll) - 1
		}
		polls++
		poll[i](w)
	}))
	t.Cleanup(server.Close)

	service, err := speech.NewService(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return &SpeechTranscriber{
		service:      service,
		languageCode: "en-US",
		pollInterval: time.Millisecond,
	}
}

func writeJSON(body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Write([]byte(body))
	}
}

func TestTranscribeJoinsAlternatives(t *testing.T) {
	tr := newTestTranscriber(t,
		`{"name":"op1","done":false}`,
		[]func(w http.ResponseWriter){
			writeJSON(`{"name":"op1","done":false}`),
			writeJSON(`{"name":"op1","done":true,"response":{"results":[{"alternatives":[{"transcript":"hello"}]},{"alternatives":[{"transcript":"world"}]}]}}`),
		},
	)

	art, err := tr.Transcribe(context.Background(), models.NewInputDescriptor("bronze", "call.mp3", 10))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", art.Kind)
	assert.Equal(t, "hello world", art.Text)
}

func TestTranscribePollFailureIsTransient(t *testing.T) {
	tr := newTestTranscriber(t,
		`{"name":"op1","done":false}`,
		[]func(w http.ResponseWriter){
			func(w http.ResponseWriter) { http.Error(w, "backend error", http.StatusInternalServerError) },
		},
	)

	_, err := tr.Transcribe(context.Background(), models.NewInputDescriptor("bronze", "call.mp3", 10))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "op1", "failure names the operation being polled")
}

func TestTranscribeOperationErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		code      int
		retryable bool
	}{
		{"unavailable retries", 14, true},
		{"invalid argument does not", 3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTestTranscriber(t,
				`{"name":"op1","done":false}`,
				[]func(w http.ResponseWriter){
					writeJSON(`{"name":"op1","done":true,"error":{"code":` + strconv.Itoa(tc.code) + `,"message":"boom"}}`),
				},
			)

			_, err := tr.Transcribe(context.Background(), models.NewInputDescriptor("bronze", "call.mp3", 10))
			require.Error(t, err)
			assert.Equal(t, tc.retryable, IsRetryable(err))
		})
	}
}

func TestTranscribeEmptyTranscriptIsPermanent(t *testing.T) {
	tr := newTestTranscriber(t,
		`{"name":"op1","done":true,"response":{"results":[]}}`,
		nil,
	)

	_, err := tr.Transcribe(context.Background(), models.NewInputDescriptor("bronze", "call.mp3", 10))
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestTranscribeHonorsContextWhileWaiting(t *testing.T) {
	tr := newTestTranscriber(t,
		`{"name":"op1","done":false}`,
		[]func(w http.ResponseWriter){
			writeJSON(`{"name":"op1","done":false}`),
		},
	)
	tr.pollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Transcribe(ctx, models.NewInputDescriptor("bronze", "call.mp3", 10))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}
