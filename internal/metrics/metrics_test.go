package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposition(t *testing.T) {
	m := New("passport")

	m.RecordHTTPRequest("POST", "/v1/tokens/verify", 200, 12*time.Millisecond)
	m.RecordTokenIssued()
	m.RecordTokenIssueFailure("invalid_signature")
	m.RecordTokenRevoked()
	m.RecordVerification("valid", "")
	m.RecordVerification("invalid", "token_revoked")
	m.RecordRateLimitDenial("challenge_agent")
	m.RecordRiskScore(45)
	m.RecordAuditDropped()

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		`passport_http_requests_total{method="POST",route="/v1/tokens/verify",status="200"} 1`,
		`passport_tokens_issued_total 1`,
		`passport_tokens_issue_failures_total{reason="invalid_signature"} 1`,
		`passport_tokens_revoked_total 1`,
		`passport_verify_results_total{outcome="valid",reason="none"} 1`,
		`passport_verify_results_total{outcome="invalid",reason="token_revoked"} 1`,
		`passport_ratelimit_denials_total{dimension="challenge_agent"} 1`,
		`passport_audit_dropped_total 1`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %s", want)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// two instances must not collide on registration
	a := New("passport")
	b := New("passport")
	a.RecordTokenIssued()
	b.RecordTokenIssued()
}
