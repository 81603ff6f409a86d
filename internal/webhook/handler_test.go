package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autohodl/internal/storage"
)

const testSecret = "stream-secret"

type recordingProcessor struct {
	calls  int
	events []storage.SpendEvent
	ctxErr error
}

func (p *recordingProcessor) Process(ctx context.Context, events []storage.SpendEvent) {
	p.calls++
	p.events = append(p.events, events...)
	p.ctxErr = ctx.Err()
}

type recordingRecorder struct {
	outcomes []string
}

func (r *recordingRecorder) ObserveWebhook(_ int, outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}

func newTestHandler(secret string, proc Processor, rec Recorder) *Handler {
	return NewHandler(HandlerOptions{
		Verifier:   NewVerifier(secret),
		Classifier: NewClassifier([]string{cardAddress}, []string{usdcAddress}),
		Processor:  proc,
		Recorder:   rec,
	}, zerolog.Nop())
}

func post(t *testing.T, h http.Handler, body, signature string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/moralis", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("x-signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec, decoded
}

func transferBody(confirmed bool, to, value string) string {
	c := "false"
	if confirmed {
		c = "true"
	}
	return `{"confirmed":` + c + `,"chainId":"0xe708","block":{"number":"1","timestamp":"1700000000"},"erc20Transfers":[` +
		`{"transactionHash":"0xspend","from":"0xABC","to":"` + to + `","contract":"` + usdcAddress + `","value":"` + value + `","tokenSymbol":"USDC","tokenDecimals":"6"}]}`
}

func TestHandlerProcessesRelevantTransfers(t *testing.T) {
	proc := &recordingProcessor{}
	rec := &recordingRecorder{}
	h := newTestHandler(testSecret, proc, rec)

	body := transferBody(true, cardAddress, "700000")
	resp, decoded := post(t, h, body, Digest([]byte(body), testSecret))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Webhook processed successfully", decoded["message"])
	assert.EqualValues(t, 1, decoded["processedTransfers"])
	require.Equal(t, 1, proc.calls)
	require.Len(t, proc.events, 1)
	assert.Equal(t, "0xspend", proc.events[0].SpendTxHash)
	assert.NoError(t, proc.ctxErr)
	assert.Equal(t, []string{"processed"}, rec.outcomes)
}

func TestHandlerNoRelevantTransfers(t *testing.T) {
	proc := &recordingProcessor{}
	h := newTestHandler(testSecret, proc, nil)

	body := transferBody(true, otherAddress, "700000")
	resp, decoded := post(t, h, body, Digest([]byte(body), testSecret))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "No relevant transfers found", decoded["message"])
	_, hasCount := decoded["processedTransfers"]
	assert.False(t, hasCount)
	assert.Zero(t, proc.calls)
}

func TestHandlerUnconfirmed(t *testing.T) {
	proc := &recordingProcessor{}
	h := newTestHandler(testSecret, proc, nil)

	body := transferBody(false, cardAddress, "700000")
	resp, decoded := post(t, h, body, Digest([]byte(body), testSecret))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Transaction not confirmed yet", decoded["message"])
	assert.Zero(t, proc.calls)
}

func TestHandlerAuthentication(t *testing.T) {
	body := transferBody(true, cardAddress, "700000")

	tests := []struct {
		name      string
		secret    string
		signature string
		status    int
		errMsg    string
	}{
		{name: "missing secret", secret: "", signature: "0x00", status: http.StatusInternalServerError, errMsg: "Webhook secret not configured"},
		{name: "missing secret and signature", secret: "", signature: "", status: http.StatusInternalServerError, errMsg: "Webhook secret not configured"},
		{name: "missing signature", secret: testSecret, signature: "", status: http.StatusUnauthorized, errMsg: "No signature provided"},
		{name: "wrong signature", secret: testSecret, signature: Digest([]byte(body), "wrong"), status: http.StatusUnauthorized, errMsg: "Invalid signature"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			proc := &recordingProcessor{}
			resp, decoded := post(t, newTestHandler(tc.secret, proc, nil), body, tc.signature)
			assert.Equal(t, tc.status, resp.Code)
			assert.Equal(t, tc.errMsg, decoded["error"])
			assert.Zero(t, proc.calls)
		})
	}
}

func TestHandlerMalformedBody(t *testing.T) {
	proc := &recordingProcessor{}
	h := newTestHandler(testSecret, proc, nil)

	body := `{"confirmed": true, "erc20Transfers": [`
	resp, decoded := post(t, h, body, Digest([]byte(body), testSecret))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Invalid JSON payload", decoded["error"])
	assert.Zero(t, proc.calls)
}

func TestHandlerOtherMethods(t *testing.T) {
	h := newTestHandler(testSecret, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Moralis webhook endpoint")

	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Contains(t, rec.Body.String(), "Method not allowed")
	}
}
