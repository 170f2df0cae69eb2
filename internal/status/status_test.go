package status

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/lanshare/lanshare_server/internal/sharedfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type fixedCounter int

func (c fixedCounter) Active() int { return int(c) }

func newTestEndpoints(t *testing.T) *StatusEndpoints {
	root, err := sharedfs.NewRoot(t.TempDir())
	require.NoError(t, err)
	return NewEndpoints("1.0.0", root, fixedCounter(2), 2*1024*1024, 3)
}

func TestStatusEndpoints_Status_ShouldExposeUploadSettings(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}

	newTestEndpoints(t).Status(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var response StatusResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
	assert.Equal(t, StatusResponse{
		Health:            "OK",
		Version:           "1.0.0",
		ChunkSize:         2 * 1024 * 1024,
		MaxActiveSessions: 3,
		ActiveSessions:    2,
	}, response)
}

func TestStatusEndpoints_StorageInfo_ShouldReportVolumeUsage(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}

	newTestEndpoints(t).StorageInfo(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
	assert.Equal(t, true, response["success"])
	assert.Greater(t, response["total"], float64(0))
	assert.Contains(t, response, "used")
	assert.Contains(t, response, "free")
}
