package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexPage = `<html><body>
<table>
<tr><td><a href="gp.php?GROUP=starlink&amp;FORMAT=tle">Starlink</a></td></tr>
<tr><td><a href="gp.php?GROUP=stations&amp;FORMAT=tle">Space
   Stations</a></td></tr>
<tr><td><a href="/NORAD/elements/gp.php?GROUP=starlink&amp;FORMAT=json">Starlink JSON</a></td></tr>
<tr><td><a href="supplemental/">Supplemental</a></td></tr>
<tr><td><a href="gp.php?CATNR=25544">ISS only</a></td></tr>
</table>
</body></html>`

func TestDiscoverGroups(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(indexPage))
	}))
	defer server.Close()

	groups, err := DiscoverGroups(context.Background(), server.URL+"/NORAD/elements/", "")
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "starlink", groups[0].ID)
	assert.Equal(t, "Starlink", groups[0].Name)
	assert.Equal(t, server.URL+"/NORAD/elements/gp.php?GROUP=starlink&FORMAT=tle", groups[0].URL)
	assert.Equal(t, "stations", groups[1].ID)
	assert.Equal(t, "Space Stations", groups[1].Name)
}

func TestDiscoverGroupsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := DiscoverGroups(context.Background(), server.URL, "")
	assert.True(t, errors.Is(err, ErrSourceUnavailable), "got %v", err)
}
