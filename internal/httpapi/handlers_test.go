package httpapi

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/reminder"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/scheduler"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/twilio"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*reminder.MemoryStore, *gin.Engine) {
	t.Helper()

	store := reminder.NewMemoryStore()
	policy := reminder.DefaultPolicy()
	outcomes := reminder.NewOutcomeService(store, policy, nil)

	schedulerService, err := scheduler.NewService(store, policy, twilio.MockDialer{}, outcomes, 4)
	require.NoError(t, err)

	t.Cleanup(schedulerService.Close)

	server := NewServer(store, schedulerService, outcomes, nil)

	return store, server.Router()
}

func seedCallingReminder(t *testing.T, store *reminder.MemoryStore) *reminder.Reminder {
	t.Helper()

	r := &reminder.Reminder{
		ID:           uuid.NewString(),
		Title:        "water the plants",
		PrimaryPhone: "+15550000001",
		ScheduledAt:  time.Now().Add(-time.Minute),
		Attempts:     1,
		Status:       reminder.StatusCalling,
		LastTarget:   reminder.TargetPrimary,
	}

	require.NoError(t, store.Create(t.Context(), r))

	return r
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	return recorder
}

func postForm(router *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	return recorder
}

func TestCreateReminder(t *testing.T) {
	store, router := newTestServer(t)

	recorder := postJSON(router, "/reminders", map[string]any{
		"title":         "take medication",
		"primary_phone": "+15550000001",
		"backup_phone":  "+15550000002",
		"scheduled_at":  time.Now().Add(time.Hour).Format(time.RFC3339),
	})

	require.Equal(t, http.StatusCreated, recorder.Code)

	var created reminder.Reminder
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, reminder.StatusScheduled, created.Status)
	require.NotNil(t, created.NextAttemptAt)

	stored, err := store.Get(t.Context(), created.ID)
	require.NoError(t, err)
	require.Equal(t, "take medication", stored.Title)
}

func TestCreateReminderRejectsBadPhone(t *testing.T) {
	_, router := newTestServer(t)

	recorder := postJSON(router, "/reminders", map[string]any{
		"title":         "take medication",
		"primary_phone": "555-not-a-phone",
		"scheduled_at":  time.Now().Format(time.RFC3339),
	})

	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGetReminderNotFound(t *testing.T) {
	_, router := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/reminders/"+uuid.NewString(), nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGetReminderIncludesLogs(t *testing.T) {
	store, router := newTestServer(t)
	r := seedCallingReminder(t, store)

	require.NoError(t, store.AppendLog(t.Context(), &reminder.CallLog{
		ReminderID: r.ID,
		CallSID:    "CA1",
		Outcome:    reminder.InitiatedOutcome(reminder.TargetPrimary),
	}))

	req := httptest.NewRequest(http.MethodGet, "/reminders/"+r.ID, nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Reminder reminder.Reminder `json:"reminder"`
		CallLogs []reminder.CallLog `json:"call_logs"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Equal(t, r.ID, body.Reminder.ID)
	require.Len(t, body.CallLogs, 1)
}

func TestTriggerTickRunsScheduler(t *testing.T) {
	store, router := newTestServer(t)

	past := time.Now().Add(-time.Minute)
	r := &reminder.Reminder{
		ID:            uuid.NewString(),
		Title:         "renew passport",
		PrimaryPhone:  "+15550000001",
		ScheduledAt:   past,
		NextAttemptAt: &past,
		Status:        reminder.StatusScheduled,
	}
	require.NoError(t, store.Create(t.Context(), r))

	recorder := postJSON(router, "/scheduler/tick", nil)

	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Summary scheduler.TickSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Equal(t, 1, body.Summary.CallsInitiated)

	got, err := store.Get(t.Context(), r.ID)
	require.NoError(t, err)
	require.Equal(t, reminder.StatusCalling, got.Status)
}

func TestTriggerTickRejectsBadLimit(t *testing.T) {
	_, router := newTestServer(t)

	recorder := postJSON(router, "/scheduler/tick?limit=zero", nil)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCallNowDialsImmediately(t *testing.T) {
	store, router := newTestServer(t)

	r := &reminder.Reminder{
		ID:           uuid.NewString(),
		Title:        "cancel subscription",
		PrimaryPhone: "+15550000001",
		ScheduledAt:  time.Now().Add(24 * time.Hour),
		Status:       reminder.StatusDone,
		Attempts:     1,
	}
	require.NoError(t, store.Create(t.Context(), r))

	recorder := postJSON(router, "/reminders/"+r.ID+"/call-now", nil)

	require.Equal(t, http.StatusOK, recorder.Code)

	got, err := store.Get(t.Context(), r.ID)
	require.NoError(t, err)
	require.Equal(t, reminder.StatusCalling, got.Status)
	require.Equal(t, 1, got.Attempts)
}

func TestCallNowUnknownReminder(t *testing.T) {
	_, router := newTestServer(t)

	recorder := postJSON(router, "/reminders/"+uuid.NewString()+"/call-now", nil)

	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestVoiceAnswerSpeaksTitle(t *testing.T) {
	store, router := newTestServer(t)
	r := seedCallingReminder(t, store)

	recorder := postForm(router, "/voice/answer?reminderId="+r.ID, url.Values{})

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Header().Get("Content-Type"), "application/xml")
	require.Contains(t, recorder.Body.String(), "water the plants")
	require.Contains(t, recorder.Body.String(), "<Gather")
}

func TestVoiceAnswerUnknownReminderHangsUp(t *testing.T) {
	_, router := newTestServer(t)

	recorder := postForm(router, "/voice/answer?reminderId="+uuid.NewString(), url.Values{})

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "<Hangup")
	require.NotContains(t, recorder.Body.String(), "<Gather")
}

func TestVoiceGatherSnooze(t *testing.T) {
	store, router := newTestServer(t)
	r := seedCallingReminder(t, store)

	form := url.Values{}
	form.Set("CallSid", "CA1")
	form.Set("Digits", "2")

	recorder := postForm(router, "/voice/gather?reminderId="+r.ID, form)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "call you again in an hour")

	got, err := store.Get(t.Context(), r.ID)
	require.NoError(t, err)
	require.Equal(t, reminder.StatusRetrying, got.Status)
	require.NotNil(t, got.NextAttemptAt)
}

func TestVoiceStatusCompletedWithConfirm(t *testing.T) {
	store, router := newTestServer(t)
	r := seedCallingReminder(t, store)

	gatherForm := url.Values{}
	gatherForm.Set("CallSid", "CA1")
	gatherForm.Set("Digits", "1")

	recorder := postForm(router, "/voice/gather?reminderId="+r.ID, gatherForm)
	require.Equal(t, http.StatusOK, recorder.Code)

	statusForm := url.Values{}
	statusForm.Set("CallSid", "CA1")
	statusForm.Set("CallStatus", "completed")

	recorder = postForm(router, "/voice/status?reminderId="+r.ID, statusForm)
	require.Equal(t, http.StatusOK, recorder.Code)

	got, err := store.Get(t.Context(), r.ID)
	require.NoError(t, err)
	require.Equal(t, reminder.StatusDone, got.Status)

	logs, err := store.ListLogs(t.Context(), r.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.NotEmpty(t, logs[0].Payload)
}

func TestVoiceStatusUnknownReminder(t *testing.T) {
	_, router := newTestServer(t)

	form := url.Values{}
	form.Set("CallSid", "CA1")
	form.Set("CallStatus", "no-answer")

	recorder := postForm(router, "/voice/status?reminderId="+uuid.NewString(), form)

	require.Equal(t, http.StatusNotFound, recorder.Code)
}
