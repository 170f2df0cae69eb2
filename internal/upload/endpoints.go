package upload

import (
	"errors"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	coordinator *Coordinator
}

func NewEndpoints(coordinator *Coordinator) *Endpoints {
	return &Endpoints{coordinator: coordinator}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(payload)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return fasthttp.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return fasthttp.StatusNotFound
	case errors.Is(err, ErrTooManySessions):
		return fasthttp.StatusTooManyRequests
	case errors.Is(err, ErrAssembly):
		return fasthttp.StatusConflict
	default:
		return fasthttp.StatusInternalServerError
	}
}

func writeError(ctx *fasthttp.RequestCtx, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == fasthttp.StatusInternalServerError && !errors.Is(err, ErrChunkPersist) {
		log.Error().Err(err).Str("path", string(ctx.Path())).Msg("[UPLOAD] Request failed")
		message = "internal error"
	}
	if status == fasthttp.StatusTooManyRequests {
		ctx.Response.Header.Set("Retry-After", "2")
	}
	writeJSON(ctx, status, errorResponse{Error: message})
}

func (e *Endpoints) Init(ctx *fasthttp.RequestCtx) {
	var req BeginRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	s, err := e.coordinator.BeginOrResume(ctx, req)
	if err != nil {
		writeError(ctx, err)
		return
	}

	snapshot, err := e.coordinator.Status(ctx, s.ID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, snapshot)
}

func formValue(values map[string][]string, name string) string {
	if v := values[name]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func formInt(values map[string][]string, name string, required bool) (int64, error) {
	raw := formValue(values, name)
	if raw == "" {
		if required {
			return 0, invalidf("%s is required", name)
		}
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, invalidf("%s must be an integer", name)
	}
	return n, nil
}

// Chunk accepts one multipart chunk: the bytes in the "chunk" part plus the
// session metadata as form fields.
func (e *Endpoints) Chunk(ctx *fasthttp.RequestCtx) {
	contentType := string(ctx.Request.Header.ContentType())
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		writeJSON(ctx, fasthttp.StatusBadRequest, errorResponse{Error: "Content-Type must be multipart/form-data"})
		return
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, errorResponse{Error: "failed to parse multipart form"})
		return
	}
	defer ctx.Request.RemoveMultipartFormFiles()

	files := form.File["chunk"]
	if len(files) == 0 {
		writeError(ctx, invalidf("chunk is required"))
		return
	}

	chunkIndex, err := formInt(form.Value, "chunkIndex", true)
	if err != nil {
		writeError(ctx, err)
		return
	}
	totalChunks, err := formInt(form.Value, "totalChunks", true)
	if err != nil {
		writeError(ctx, err)
		return
	}
	totalSize, err := formInt(form.Value, "totalSize", false)
	if err != nil {
		writeError(ctx, err)
		return
	}

	body, err := files[0].Open()
	if err != nil {
		writeError(ctx, invalidf("failed to open chunk: %v", err))
		return
	}
	defer body.Close()

	ack, err := e.coordinator.IngestChunk(ctx, ChunkRequest{
		BeginRequest: BeginRequest{
			UploadID:     formValue(form.Value, "uploadId"),
			FileName:     formValue(form.Value, "fileName"),
			TotalSize:    totalSize,
			TotalChunks:  int(totalChunks),
			Path:         formValue(form.Value, "path"),
			RelativePath: formValue(form.Value, "relativePath"),
		},
		ChunkIndex:    int(chunkIndex),
		Body:          body,
		SourceAddress: ctx.RemoteAddr().String(),
	})
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, ack)
}

func (e *Endpoints) Status(ctx *fasthttp.RequestCtx) {
	uploadID, _ := ctx.UserValue("uploadID").(string)
	if uploadID == "" {
		writeError(ctx, invalidf("upload id is required"))
		return
	}

	snapshot, err := e.coordinator.Status(ctx, uploadID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, snapshot)
}
