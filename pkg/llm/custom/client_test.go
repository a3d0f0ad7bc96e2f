package custom_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/impression-go/pkg/llm"
	"github.com/oceanbase/impression-go/pkg/llm/custom"
)

func TestNewClient_RequiresEndpoint(t *testing.T) {
	_, err := custom.NewClient(&custom.Config{APIKey: "k"})
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}

func TestClient_Generate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{"openai shape", http.StatusOK, `{"choices":[{"message":{"content":"TYPE: friendly"}}]}`, "TYPE: friendly", false},
		{"flat shape", http.StatusOK, `{"content":"WEIGHT_SCORE: 80"}`, "WEIGHT_SCORE: 80", false},
		{"empty", http.StatusOK, `{"choices":[]}`, "", true},
		{"not json", http.StatusOK, `hello`, "", true},
		{"server error", http.StatusInternalServerError, `oops`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]interface{}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := custom.NewClient(&custom.Config{APIKey: "secret", Model: "m1", Endpoint: server.URL})
			require.NoError(t, err)

			text, err := client.Generate(context.Background(), "hi", llm.WithMaxTokens(42))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
			assert.Equal(t, "m1", got["model"])
			assert.Equal(t, float64(42), got["max_tokens"])
		})
	}
}
