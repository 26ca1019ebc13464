package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edusocial/apps/rag/internal/content"
	"edusocial/apps/rag/internal/queue"
)

type fakeQueue struct {
	err         error
	contentType content.Type
	contentID   string
	text        string
	priority    int
	calls       int
}

func (f *fakeQueue) Enqueue(ctx context.Context, ct content.Type, contentID, text string, priority int) error {
	f.calls++
	f.contentType = ct
	f.contentID = contentID
	f.text = text
	f.priority = priority
	return f.err
}

func doEnqueue(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/embeddings/queue", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Enqueue(w, req)
	return w
}

func TestEnqueueAccepted(t *testing.T) {
	q := &fakeQueue{}
	h := NewHandler(q)

	w := doEnqueue(h, `{"content_type":"post","content_id":"42","text":"a new post","priority":3}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, content.TypePost, q.contentType)
	assert.Equal(t, "42", q.contentID)
	assert.Equal(t, 3, q.priority)
}

func TestEnqueueDefaultPriority(t *testing.T) {
	q := &fakeQueue{}
	h := NewHandler(q)

	w := doEnqueue(h, `{"content_type":"lesson","content_id":"7","text":"lesson text"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 5, q.priority)
}

func TestEnqueueInvalidBody(t *testing.T) {
	q := &fakeQueue{}
	h := NewHandler(q)

	w := doEnqueue(h, `{broken`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, q.calls)
}

func TestEnqueueUnknownContentType(t *testing.T) {
	q := &fakeQueue{}
	h := NewHandler(q)

	w := doEnqueue(h, `{"content_type":"video","content_id":"1","text":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, q.calls)
}

func TestEnqueueValidationError(t *testing.T) {
	q := &fakeQueue{err: queue.ErrValidation}
	h := NewHandler(q)

	w := doEnqueue(h, `{"content_type":"post","content_id":"1","text":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueueInternalError(t *testing.T) {
	q := &fakeQueue{err: assert.AnError}
	h := NewHandler(q)

	w := doEnqueue(h, `{"content_type":"post","content_id":"1","text":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
