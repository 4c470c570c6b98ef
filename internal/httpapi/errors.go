package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agent-passport/go-core/internal/apperr"
)

// codeStatus maps stable error codes to HTTP status
var codeStatus = map[apperr.Code]int{
	apperr.CodeValidation:           http.StatusBadRequest,
	apperr.CodeInvalidPublicKey:     http.StatusBadRequest,
	apperr.CodeHandleTaken:          http.StatusBadRequest,
	apperr.CodeChallengeExpired:     http.StatusBadRequest,
	apperr.CodeChallengeAlreadyUsed: http.StatusBadRequest,
	apperr.CodeKeyAlreadyRevoked:    http.StatusBadRequest,
	apperr.CodeNoActiveKeys:         http.StatusBadRequest,
	apperr.CodeUnauthorized:         http.StatusUnauthorized,
	apperr.CodeInvalidSignature:     http.StatusUnauthorized,
	apperr.CodeInvalidToken:         http.StatusUnauthorized,
	apperr.CodeTokenExpired:         http.StatusUnauthorized,
	apperr.CodeForbidden:            http.StatusForbidden,
	apperr.CodeAgentSuspended:       http.StatusForbidden,
	apperr.CodeAgentNotFound:        http.StatusNotFound,
	apperr.CodeChallengeNotFound:    http.StatusNotFound,
	apperr.CodeKeyNotFound:          http.StatusNotFound,
	apperr.CodeAppNotFound:          http.StatusNotFound,
	apperr.CodeRateLimited:          http.StatusTooManyRequests,
	apperr.CodeRedisUnavailable:     http.StatusServiceUnavailable,
	apperr.CodeInternal:             http.StatusInternalServerError,
}

// errorBody is the wire shape of the error envelope
type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id"`
}

const productionErrorMessage = "an internal error occurred"

// writeError renders the error envelope for a typed or untyped failure
func (s *Server) writeError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	message := err.Error()
	var details map[string]interface{}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		message = ae.Message
		details = ae.Details
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", RequestID(c)),
			zap.String("code", string(code)),
			zap.Error(err))
		if s.production {
			message = productionErrorMessage
		}
	}

	c.AbortWithStatusJSON(status, errorEnvelope{
		Error: errorBody{
			Code:    string(code),
			Message: message,
			Details: details,
		},
		RequestID: RequestID(c),
	})
}
