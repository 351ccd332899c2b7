package httpapi

import "net/http"

// Structured error codes surfaced to clients.
const (
	codeUnsupportedVersion = "Header/UnsupportedVersion"
	codeInvalidIndustry    = "Field/InvalidIndustry"
	codeUnexpectedError    = "Unexpected/Error"
)

type apiError struct {
	Code   string            `json:"code"`
	Title  string            `json:"title"`
	Detail string            `json:"detail"`
	Meta   map[string]string `json:"meta"`
}

type errorResponse struct {
	Errors []apiError `json:"errors"`
}

// writeAPIError emits the structured error body. Exactly one error is
// surfaced per request.
func writeAPIError(w http.ResponseWriter, status int, code, title string) {
	writeJSON(w, status, errorResponse{
		Errors: []apiError{
			{Code: code, Title: title, Detail: "", Meta: map[string]string{}},
		},
	})
}

// unauthorized answers every authentication failure identically, so the
// response carries no hint about why the token was rejected.
func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
}
