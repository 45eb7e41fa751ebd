package sobject

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berrors "github.com/p-blackswan/handoff-bridge/internal/errors"
	"github.com/p-blackswan/handoff-bridge/internal/retry"
)

type staticTokens string

func (s staticTokens) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, staticTokens("tok-123"), zerolog.Nop())
	c.retry = retry.Config{MaxAttempts: 3, BaseDelay: 0, MaxDelay: 0}
	return c
}

func TestFindContactByEmail_Found(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		switch {
		case r.URL.Path == "/query/":
			q, err := url.QueryUnescape(r.URL.RawQuery)
			require.NoError(t, err)
			assert.Contains(t, q, "Email='jane@example.com'")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"totalSize": 1,
				"records":   []map[string]string{{"Id": "003xx"}},
			})
		case r.URL.Path == "/sobjects/Contact/003xx":
			_ = json.NewEncoder(w).Encode(Contact{ID: "003xx", FirstName: "Jane", LastName: "Doe", Email: "jane@example.com"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	contact, err := c.FindContactByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "003xx", contact.ID)
	assert.Equal(t, "Jane", contact.FirstName)
}

func TestFindContactByEmail_NoMatchReturnsNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"totalSize": 0, "records": []any{}})
	})

	contact, err := c.FindContactByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, contact)
}

func TestCreateContact(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sobjects/Contact/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var nc NewContact
		require.NoError(t, json.NewDecoder(r.Body).Decode(&nc))
		assert.Equal(t, "Doe", nc.LastName)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createResponse{ID: "003new", Success: true})
	})

	id, err := c.CreateContact(context.Background(), NewContact{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "003new", id)
}

func TestCreateCase(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sobjects/Case/", r.URL.Path)

		var nc NewCase
		require.NoError(t, json.NewDecoder(r.Body).Decode(&nc))
		assert.Equal(t, "003xx", nc.ContactID)
		assert.Equal(t, "Consumer Case", nc.Record.Name)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createResponse{ID: "500case", Success: true})
	})

	id, err := c.CreateCase(context.Background(), NewCase{
		Status:    "New",
		Origin:    "Chat",
		ContactID: "003xx",
		Record:    RecordType{Name: "Consumer Case"},
	})
	require.NoError(t, err)
	assert.Equal(t, "500case", id)
}

func TestCaseNumber(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q, _ := url.QueryUnescape(r.URL.RawQuery)
		assert.Contains(t, q, "Id='500case'")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"totalSize": 1,
			"records":   []map[string]string{{"CaseNumber": "00012345"}},
		})
	})

	num, err := c.CaseNumber(context.Background(), "500case")
	require.NoError(t, err)
	assert.Equal(t, "00012345", num)
}

func TestCaseNumber_MissingCase(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"totalSize": 0, "records": []any{}})
	})

	_, err := c.CaseNumber(context.Background(), "500gone")
	assert.ErrorIs(t, err, berrors.ErrNotFound)
}

func TestUpdateCase_Patch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/sobjects/Case/500case", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.UpdateCase(context.Background(), "500case", CaseUpdate{Status: "Closed", Origin: "Chat"})
	require.NoError(t, err)
}

func TestCreateTranscript(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sobjects/LiveChatTranscript", r.URL.Path)

		var tr Transcript
		require.NoError(t, json.NewDecoder(r.Body).Decode(&tr))
		assert.Equal(t, "0MQvis", tr.VisitorRecordID)
		assert.Contains(t, tr.Body, "visitor: hello")

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createResponse{ID: "570tr", Success: true})
	})

	id, err := c.CreateTranscript(context.Background(), Transcript{
		VisitorRecordID: "0MQvis",
		DeploymentID:    "572dep",
		ButtonID:        "573btn",
		Body:            "visitor: hello\nagent: hi there",
	})
	require.NoError(t, err)
	assert.Equal(t, "570tr", id)
}

func TestCreateVisitorRecord(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sobjects/LiveChatVisitor", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createResponse{ID: "0MQvis", Success: true})
	})

	id, err := c.CreateVisitor(context.Background(), VisitorRecord{SessionKey: "sk-1"})
	require.NoError(t, err)
	assert.Equal(t, "0MQvis", id)
}

func TestCall_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createResponse{ID: "resp1", Success: true})
	})

	id, err := c.CreateFeedback(context.Background(), Feedback{Satisfaction: 5, EffortScore: 2, CaseID: "500case"})
	require.NoError(t, err)
	assert.Equal(t, "resp1", id)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCall_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.CreateContact(context.Background(), NewContact{LastName: "Doe"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var apiErr *berrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "sobject", apiErr.Service)
}
