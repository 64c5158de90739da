package api

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Detail
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteBadRequest(rec, "bad input")

	assert.Equal(t, 400, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bad input", decodeDetail(t, rec))
}

func TestWriteUnauthorizedChallenge(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteUnauthorized(rec, "")

	assert.Equal(t, 401, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "Authentication required", decodeDetail(t, rec))
}

func TestWriteForbiddenDefault(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteForbidden(rec, "")

	assert.Equal(t, 403, rec.Code)
	assert.Equal(t, "Not enough permissions", decodeDetail(t, rec))
}

func TestWriteInternalNeverLeaksError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteInternal(rec, "Cryptographic signing failed.", errors.New("rsa: key corrupt at offset 12"))

	assert.Equal(t, 500, rec.Code)
	detail := decodeDetail(t, rec)
	assert.Equal(t, "Cryptographic signing failed.", detail)
	assert.NotContains(t, rec.Body.String(), "rsa:")
}
