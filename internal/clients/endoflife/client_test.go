package endoflife

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleUnmarshal(t *testing.T) {
	var cycles []Cycle
	require.NoError(t, json.Unmarshal([]byte(`[
		{"cycle":"3.7","eol":"2023-06-27","latest":"3.7.17","releaseDate":"2018-06-27"},
		{"cycle":8,"eol":false,"latest":8.1},
		{"cycle":"1.0","eol":true},
		{"cycle":"0.9"}
	]`), &cycles))
	require.Len(t, cycles, 4)

	assert.Equal(t, "3.7", cycles[0].Cycle)
	assert.Equal(t, EOL{Date: "2023-06-27", IsDate: true}, cycles[0].EOL)
	assert.Equal(t, "3.7.17", cycles[0].Latest)

	assert.Equal(t, "8", cycles[1].Cycle)
	assert.Equal(t, EOL{}, cycles[1].EOL)
	assert.Equal(t, "8.1", cycles[1].Latest)

	assert.Equal(t, EOL{Bool: true}, cycles[2].EOL)
	assert.Equal(t, EOL{}, cycles[3].EOL)
}

func TestEOLRejectsGarbage(t *testing.T) {
	var e EOL
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &e))
}

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/all.json":
			w.Write([]byte(`["python","nodejs"]`)) // nolint
		case "/api/python.json":
			w.Write([]byte(`[{"cycle":"3.12","eol":"2028-10-31"}]`)) // nolint
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := New(srv.URL+"/api/", srv.Client())
	ctx := context.Background()

	products, err := client.Products(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "nodejs"}, products)

	cycles, err := client.Cycles(ctx, "python")
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, "3.12", cycles[0].Cycle)

	_, err = client.Cycles(ctx, "cobol")
	assert.ErrorIs(t, err, ErrNotFound)
}
