package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

func TestVNCLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{
		Name:     "web01",
		Brand:    "bhyve",
		Status:   types.ZoneStatusRunning,
		Zonepath: t.TempDir(),
	})

	code, body := a.do(t, http.MethodPost, "/zones/web01/vnc/start", nil)
	require.Equal(t, http.StatusCreated, code, "body: %s", body)

	var sess types.VNCSession
	unmarshal(t, body, &sess)
	assert.Equal(t, "web01", sess.ZoneName)
	assert.Equal(t, types.SessionActive, sess.Status)
	assert.GreaterOrEqual(t, sess.WSPort, 42850)
	assert.LessOrEqual(t, sess.WSPort, 42869)

	// Starting again while the proxy runs returns the same session.
	code, body = a.do(t, http.MethodPost, "/zones/web01/vnc/start", nil)
	require.Equal(t, http.StatusCreated, code)
	var again types.VNCSession
	unmarshal(t, body, &again)
	assert.Equal(t, sess.ID, again.ID)

	code, body = a.do(t, http.MethodGet, "/zones/web01/vnc/info", nil)
	require.Equal(t, http.StatusOK, code)
	var info types.VNCSession
	unmarshal(t, body, &info)
	assert.Equal(t, sess.ID, info.ID)
	assert.Equal(t, sess.WSPort, info.WSPort)

	code, _ = a.do(t, http.MethodDelete, "/zones/web01/vnc/stop", nil)
	require.Equal(t, http.StatusNoContent, code)

	code, _ = a.do(t, http.MethodGet, "/zones/web01/vnc/info", nil)
	assert.Equal(t, http.StatusNotFound, code, "no active session after stop")
}

func TestVNCStartRejectsNonBhyveZone(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01", Brand: "lipkg", Zonepath: t.TempDir()})

	code, body := a.do(t, http.MethodPost, "/zones/web01/vnc/start", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var eb errorBody
	unmarshal(t, body, &eb)
	assert.Contains(t, eb.Error, "bhyve")
}

func TestVNCStartRejectsStoppedZone(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{
		Name:     "db01",
		Brand:    "bhyve",
		Status:   types.ZoneStatusInstalled,
		Zonepath: t.TempDir(),
	})

	code, _ := a.do(t, http.MethodPost, "/zones/db01/vnc/start", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestVNCStartUnknownZone(t *testing.T) {
	a := newTestAPI(t)
	code, _ := a.do(t, http.MethodPost, "/zones/ghost/vnc/start", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestVNCStopWithoutSession(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01", Brand: "bhyve"})

	code, _ := a.do(t, http.MethodDelete, "/zones/web01/vnc/stop", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
