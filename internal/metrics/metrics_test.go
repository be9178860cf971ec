package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	ClassifierVerdicts.WithLabelValues("local_model").Inc()
	DispatchResults.WithLabelValues("sent").Inc()

	server := httptest.NewServer(Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `verygoodmail_classifier_verdicts_total{source="local_model"}`)
	assert.Contains(t, string(body), `verygoodmail_dispatch_results_total{result="sent"}`)
}
