package httpx

import (
	"errors"
	"net/http"
)

// ErrorMapper translates domain sentinel errors into RFC7807 responses.
// Handlers register their package's sentinels once at construction time.
type ErrorMapper struct {
	rules []errorRule
}

type errorRule struct {
	target error
	status int
	title  string
}

// NewErrorMapper returns an empty mapper.
func NewErrorMapper() *ErrorMapper {
	return &ErrorMapper{}
}

// Map registers a sentinel with its response status and title. Returns the
// mapper for chaining.
func (m *ErrorMapper) Map(target error, status int, title string) *ErrorMapper {
	m.rules = append(m.rules, errorRule{target: target, status: status, title: title})
	return m
}

// Respond writes the mapped problem for err. Unregistered errors become an
// opaque 500 so internals never leak.
func (m *ErrorMapper) Respond(w http.ResponseWriter, err error) {
	for _, rule := range m.rules {
		if errors.Is(err, rule.target) {
			Problem(w, rule.status, rule.title, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
