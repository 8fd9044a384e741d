package handlers

import (
	"net/http"

	apperrors "github.com/sheetkeeper/sheetkeeper/internal/errors"
)

// ErrorResponder writes err to w as an API error body.
type ErrorResponder func(http.ResponseWriter, *http.Request, error)

var httpErrorResponder ErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder replaces the responder used by every handler in
// this package. nil restores the default.
func SetHTTPErrorResponder(responder ErrorResponder) {
	if responder == nil {
		responder = apperrors.RespondWithError
	}
	httpErrorResponder = responder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
