package ingestion

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpattn/phenobatch/internal/auth"
	"github.com/rpattn/phenobatch/internal/domain"
)

func newTestServer(t *testing.T) (*harness, *httptest.Server) {
	t.Helper()
	h := newHarness(t)
	srv := httptest.NewServer(NewHTTPHandler(HandlerDependencies{
		Jobs:         h.store,
		Uploads:      h.files,
		Snapshots:    h.snapshots,
		Scheduler:    h.scheduler,
		Views:        h.store,
		IngestionLog: h.store.IngestionLog(),
	}))
	t.Cleanup(srv.Close)
	return h, srv
}

func multipartUpload(t *testing.T, fileName, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	part, err := writer.CreateFormFile("fileBatch", fileName)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestSubmitStartAndInspectJob(t *testing.T) {
	h, srv := newTestServer(t)

	body, contentType := multipartUpload(t, "organisms.csv", "ORGANISM ID,SPECIES\nA1,SP01\n", map[string]string{
		"batch_type_id": "1",
		"person_id":     "7",
		"batch_name":    "spring survey",
	})
	resp, err := http.Post(srv.URL+"/batch_upload", contentType, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[domain.BatchJob](t, resp)
	require.Equal(t, domain.JobStatusSubmitted, created.Status)
	require.Equal(t, "organisms.csv", created.OriginalFileName)
	require.True(t, strings.HasPrefix(created.StoredFileName, "fileBatch-"))
	require.True(t, strings.HasSuffix(created.StoredFileName, ".csv"))

	resp = do(t, http.MethodPut, srv.URL+"/batch_upload/start")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	started := decode[map[string]any](t, resp)
	require.Equal(t, true, started["processed"])

	resp = do(t, http.MethodGet, srv.URL+"/batch_upload/"+jsonID(created.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := decode[domain.BatchJob](t, resp)
	require.Equal(t, domain.JobStatusCompleted, job.Status)

	_, ok := h.store.Organism("A1")
	require.True(t, ok)

	resp = do(t, http.MethodGet, srv.URL+"/batch_upload")
	jobs := decode[[]domain.BatchJob](t, resp)
	require.Len(t, jobs, 1)
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	_, srv := newTestServer(t)

	cases := []struct {
		fileName string
		fields   map[string]string
	}{
		{"organisms.pdf", map[string]string{"batch_type_id": "1", "person_id": "7"}},
		{"organisms.csv", map[string]string{"batch_type_id": "3", "person_id": "7"}},
		{"organisms.csv", map[string]string{"batch_type_id": "1", "person_id": "x"}},
		{"organisms.csv", map[string]string{"batch_type_id": "2", "person_id": "7", "parameters": "{not json"}},
	}
	for _, tc := range cases {
		body, contentType := multipartUpload(t, tc.fileName, "ORGANISM ID\nA1\n", tc.fields)
		resp, err := http.Post(srv.URL+"/batch_upload", contentType, body)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, tc)
	}
}

func TestSubmitUsesAuthenticatedPerson(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(auth.PersonMiddleware(NewHTTPHandler(HandlerDependencies{
		Jobs:      h.store,
		Uploads:   h.files,
		Snapshots: h.snapshots,
	})))
	t.Cleanup(srv.Close)

	post := func(fields map[string]string) *http.Response {
		body, contentType := multipartUpload(t, "organisms.csv", "ORGANISM ID\nA1\n", fields)
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/batch_upload", body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set(auth.PersonHeader, "12")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := post(map[string]string{"batch_type_id": "1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, int64(12), decode[domain.BatchJob](t, resp).SubmittedByPersonID)

	resp = post(map[string]string{"batch_type_id": "1", "person_id": "13"})
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRowErrorsEndpoint(t *testing.T) {
	h, srv := newTestServer(t)
	job := h.submit(t, "bad.csv", domain.BatchTypeUpload, "ORGANISM ID,SPECIES\nA1,SP99\nA2,SP98\n", "")
	h.tick(t)

	resp := do(t, http.MethodGet, srv.URL+"/batch_upload/"+jsonID(job.ID)+"/errors")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]domain.IngestionLogEntry](t, resp)
	require.Len(t, entries, 2)
	require.Equal(t, "Invalid species for A2", entries[1].ErrorMessage)
}

func TestGetUnknownJob(t *testing.T) {
	_, srv := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/batch_upload/999")
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/batch_upload/abc")
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalogReloadAndRefresh(t *testing.T) {
	h, srv := newTestServer(t)
	h.store.SeedSpecies("SP03", 5)

	resp := do(t, http.MethodPost, srv.URL+"/batch_upload/catalog/reload")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reloaded := decode[map[string]any](t, resp)
	require.Equal(t, float64(3), reloaded["species"])

	id, ok := h.snapshots.Current().SpeciesID("SP03")
	require.True(t, ok)
	require.Equal(t, int64(5), id)

	resp = do(t, http.MethodPost, srv.URL+"/batch_upload/refresh")
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, 1, h.store.RefreshCount())
}

func TestStartWithNothingPending(t *testing.T) {
	_, srv := newTestServer(t)

	resp := do(t, http.MethodPut, srv.URL+"/batch_upload/start")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	started := decode[map[string]any](t, resp)
	require.Equal(t, false, started["processed"])
	require.Nil(t, started["job"])
}

func jsonID(id int64) string {
	return strconv.FormatInt(id, 10)
}
