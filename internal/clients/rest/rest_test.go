package rest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"name":"python"}`)) // nolint
		case "/notmodified":
			w.WriteHeader(http.StatusNotModified)
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	var out struct {
		Name string `json:"name"`
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/ok", nil)
	status, err := DoJSON(srv.Client(), req, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "python", out.Name)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/notmodified", nil)
	status, err = DoJSON(srv.Client(), req, nil, http.StatusOK, http.StatusNotModified)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, status)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/missing", nil)
	_, err = DoJSON(srv.Client(), req, &out)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Contains(t, statusErr.Error(), "nope")
}
