package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-authgate/checkrgate/internal/metrics"
	"github.com/go-authgate/checkrgate/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWebhookSecret = "webhook-secret"
	testHeader        = "X-Checkr-Signature"
)

type signatureFailureCounter struct {
	metrics.NoopMetrics
	failures atomic.Int32
}

func (s *signatureFailureCounter) RecordWebhookSignatureFailure() {
	s.failures.Add(1)
}

func newWebhookRouter(counter *signatureFailureCounter, reached *[]byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/checkr/webhooks",
		WebhookSignature(testWebhookSecret, testHeader, counter, nil),
		func(c *gin.Context) {
			raw, _ := c.Get(webhook.RawBodyKey)
			*reached = raw.([]byte)
			c.Status(http.StatusOK)
		},
	)
	return r
}

func TestWebhookSignature(t *testing.T) {
	payload := []byte(`{"type":"account.credentialed","account_id":"X1"}`)
	valid := webhook.Sign(payload, []byte(testWebhookSecret))

	tests := []struct {
		name      string
		body      []byte
		signature string
		wantCode  int
	}{
		{name: "valid signature", body: payload, signature: valid, wantCode: http.StatusOK},
		{name: "uppercase hex", body: payload, signature: strings.ToUpper(valid), wantCode: http.StatusOK},
		{name: "missing header", body: payload, wantCode: http.StatusBadRequest},
		{name: "wrong secret", body: payload, signature: webhook.Sign(payload, []byte("other")), wantCode: http.StatusBadRequest},
		{name: "body altered", body: append([]byte(" "), payload...), signature: valid, wantCode: http.StatusBadRequest},
		{name: "truncated signature", body: payload, signature: valid[:32], wantCode: http.StatusBadRequest},
		{name: "not hex", body: payload, signature: "zz" + valid[2:], wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &signatureFailureCounter{}
			var reached []byte
			r := newWebhookRouter(counter, &reached)

			req := httptest.NewRequest(http.MethodPost, "/checkr/webhooks", bytes.NewReader(tt.body))
			if tt.signature != "" {
				req.Header.Set(testHeader, tt.signature)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, tt.body, reached, "handler sees the exact verified bytes")
				assert.Zero(t, counter.failures.Load())
			} else {
				assert.JSONEq(t, `{"error":"invalid_signature"}`, w.Body.String())
				assert.Nil(t, reached, "handler must not run")
				assert.Equal(t, int32(1), counter.failures.Load())
			}
		})
	}
}

func TestWebhookSignature_BodyTooLarge(t *testing.T) {
	counter := &signatureFailureCounter{}
	var reached []byte
	r := newWebhookRouter(counter, &reached)

	body := bytes.Repeat([]byte("a"), MaxWebhookBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/checkr/webhooks", bytes.NewReader(body))
	req.Header.Set(testHeader, webhook.Sign(body, []byte(testWebhookSecret)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, reached)
}

func TestWebhookSignature_RejectHook(t *testing.T) {
	gin.SetMode(gin.TestMode)
	payload := []byte(`{"type":"token.deauthorized"}`)

	var reasons []string
	r := gin.New()
	r.POST("/checkr/webhooks",
		WebhookSignature(testWebhookSecret, testHeader, metrics.NewNoopMetrics(),
			func(_ context.Context, reason string) { reasons = append(reasons, reason) }),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	send := func(signature string) int {
		req := httptest.NewRequest(http.MethodPost, "/checkr/webhooks", bytes.NewReader(payload))
		if signature != "" {
			req.Header.Set(testHeader, signature)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusBadRequest, send(""))
	assert.Equal(t, http.StatusBadRequest, send("deadbeef"))
	assert.Equal(t, http.StatusOK, send(webhook.Sign(payload, []byte(testWebhookSecret))))

	assert.Equal(t, []string{RejectSignatureMissing, RejectSignatureInvalid}, reasons)
}
