package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/labguard/labguard-api/internal/queue"
	"github.com/labguard/labguard-api/internal/utils"
)

func newValidationApp(t *testing.T) (*fiber.App, *queue.ValidationQueue) {
	t.Helper()
	q := queue.New(nil, queue.Options{}, zerolog.New(io.Discard))
	h := NewValidationHandler(q, nil, validator.New(validator.WithRequiredStructEnabled()), zerolog.New(io.Discard))

	app := fiber.New()
	h.Register(app.Group("/validations"))
	return app, q
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestEnqueueRejectsInvalidPayloadWithFieldDetail(t *testing.T) {
	app, _ := newValidationApp(t)

	resp := postJSON(t, app, "/validations", `{"submission_id": 0}`)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var body utils.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.False(t, body.Success)
	require.Contains(t, body.Message, "SubmissionID")
	require.Contains(t, body.Message, "failed on")
}

func TestEnqueueAcceptsValidPayload(t *testing.T) {
	app, q := newValidationApp(t)

	resp := postJSON(t, app, "/validations", `{"submission_id": 7}`)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, q.Status().PendingCount)
}
