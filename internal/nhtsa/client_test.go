package nhtsa

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/michaelperron12-maker/AutoVerif-QC/internal/config"
)

func newTestClient(t *testing.T, upstream *httptest.Server) *Client {
	t.Helper()
	bases := config.Load()
	bases.NHTSABase = upstream.URL
	bases.NHTSARecalls = upstream.URL + "/recalls"
	bases.NHTSAComplaints = upstream.URL + "/complaints"
	bases.NHTSARatings = upstream.URL + "/ratings"
	bases.EPABase = upstream.URL + "/epa"
	bases.TCRecalls = upstream.URL + "/tc"

	client, err := New(&Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Bases:  bases,
	})
	require.NoError(t, err)
	return client
}

func TestNHTSA_Decode_FiltersEmptyAndNotApplicable(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/vehicles/DecodeVin/2HGFC2F59MH528491")
		fmt.Fprint(w, `{"Results":[
			{"Variable":"Make","Value":"HONDA"},
			{"Variable":"Model","Value":" Civic "},
			{"Variable":"Trim","Value":""},
			{"Variable":"Note","Value":null},
			{"Variable":"Steering Location","Value":"Not Applicable"}
		]}`)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream)
	decoded, err := client.Decode(context.Background(), "2HGFC2F59MH528491")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"Make": "HONDA", "Model": "Civic"}, decoded)
}

func TestNHTSA_Decode_CachesByVIN(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"Results":[{"Variable":"Make","Value":"HONDA"}]}`)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream)
	for i := 0; i < 3; i++ {
		decoded, err := client.Decode(context.Background(), "2HGFC2F59MH528491")
		require.NoError(t, err)
		require.Equal(t, "HONDA", decoded["Make"])
	}
	require.Equal(t, int32(1), calls.Load())
}

func TestNHTSA_Decode_DegradesToEmptyOnUpstreamError(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream)
	decoded, err := client.Decode(context.Background(), "2HGFC2F59MH528491")
	require.NoError(t, err)
	require.Empty(t, decoded)
}

func TestNHTSA_Recalls_DegradeToNilOnFailure(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream)
	require.Nil(t, client.Recalls(context.Background(), "HONDA", "Civic", "2021"))
	require.Nil(t, client.Complaints(context.Background(), "HONDA", "Civic", "2021"))
	require.Nil(t, client.TCRecalls(context.Background(), "HONDA", "Civic", "2021"))
	require.Nil(t, client.Investigations(context.Background(), "HONDA", "Civic", "2021"))
}

func TestNHTSA_Recalls_ParsesResults(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "HONDA", r.URL.Query().Get("make"))
		fmt.Fprint(w, `{"results":[{"NHTSACampaignNumber":"21V-123"},{"NHTSACampaignNumber":"22V-456"}]}`)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream)
	recalls := client.Recalls(context.Background(), "HONDA", "Civic", "2021")
	require.Len(t, recalls, 2)
	require.Equal(t, "21V-123", recalls[0]["NHTSACampaignNumber"])
}

func TestNHTSA_EPA_HandlesSingleObjectMenu(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/epa/vehicle/menu/options":
			fmt.Fprint(w, `{"menuItem":{"text":"Civic","value":"43210"}}`)
		case r.URL.Path == "/epa/vehicle/43210":
			fmt.Fprint(w, `{"city08":32,"highway08":42}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream)
	epa := client.EPA(context.Background(), "HONDA", "Civic", "2021")
	require.NotNil(t, epa)
	require.EqualValues(t, 32, epa["city08"])
}
