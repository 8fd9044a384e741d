package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/sheetkeeper/sheetkeeper/internal/metrics"
	"github.com/sheetkeeper/sheetkeeper/internal/observability"
)

// Recovery turns handler panics into INTERNAL_ERROR responses.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			// Let net/http abort the response as it would without us.
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			stack := string(debug.Stack())
			panicErr := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", recovered)).
				WithCorrelationID(GetRequestID(r.Context()))
			panicErr, _ = panicErr.WithSeverity(errors.SeverityCritical)

			metrics.RecordPanic()
			if observability.ServerLogger != nil {
				observability.ServerLogger.Error("handler panic",
					zap.String("path", r.URL.Path),
					zap.String("request_id", panicErr.CorrelationID),
					zap.String("stack_trace", stack))
			}

			writeErrorResponse(w, panicErr, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorResponse mirrors the API error body. The errors package cannot be
// imported here without a cycle.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	response := ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			RequestID: envelope.CorrelationID,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
