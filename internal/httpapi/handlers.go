package httpapi

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/reminder"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/twiml"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type createReminderRequest struct {
	Title        string    `json:"title"         binding:"required"`
	PrimaryPhone string    `json:"primary_phone" binding:"required,e164"`
	BackupPhone  *string   `json:"backup_phone"  binding:"omitempty,e164"`
	ScheduledAt  time.Time `json:"scheduled_at"  binding:"required"`
}

func (s *Server) CreateReminder(c *gin.Context) {
	var req createReminderRequest

	err := c.ShouldBindJSON(&req)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scheduledAt := req.ScheduledAt

	r := &reminder.Reminder{
		ID:            uuid.NewString(),
		Title:         req.Title,
		PrimaryPhone:  req.PrimaryPhone,
		BackupPhone:   req.BackupPhone,
		ScheduledAt:   scheduledAt,
		NextAttemptAt: &scheduledAt,
		Status:        reminder.StatusScheduled,
	}

	err = s.Store.Create(c.Request.Context(), r)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to create reminder"})
		return
	}

	logging.Logger.Info("reminder created",
		zap.String("reminder_id", utils.ShortID(r.ID)),
		zap.String("primary_phone", utils.MaskPhone(r.PrimaryPhone)),
		zap.Time("scheduled_at", r.ScheduledAt),
	)

	c.JSON(http.StatusCreated, r)
}

func (s *Server) ListReminders(c *gin.Context) {
	reminders, err := s.Store.List(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to list reminders"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reminders": reminders})
}

func (s *Server) GetReminder(c *gin.Context) {
	id := c.Param("id")

	r, err := s.Store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, reminder.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "reminder not found"})
			return
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load reminder"})

		return
	}

	logs, err := s.Store.ListLogs(c.Request.Context(), id)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load call logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reminder": r, "call_logs": logs})
}

type callNowRequest struct {
	ResetAttempts *bool `json:"reset_attempts"`
}

// CallNow re-arms a reminder to be due immediately and runs a tick inline, so
// the call goes out on this request instead of waiting for the next cycle.
// Attempt counters reset by default; pass reset_attempts=false to keep them.
func (s *Server) CallNow(c *gin.Context) {
	id := c.Param("id")

	_, err := s.Store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, reminder.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "reminder not found"})
			return
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load reminder"})

		return
	}

	var req callNowRequest

	err = c.ShouldBindJSON(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reset := req.ResetAttempts == nil || *req.ResetAttempts

	now := time.Now()

	fields := map[string]any{
		reminder.FieldStatus:        reminder.StatusScheduled,
		reminder.FieldNextAttemptAt: &now,
		reminder.FieldLastOutcome:   "call-now",
	}
	if reset {
		fields[reminder.FieldAttempts] = 0
		fields[reminder.FieldBackupAttempts] = 0
	}

	_, err = s.Store.UpdateWhere(c.Request.Context(), id, nil, fields)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to re-arm reminder"})
		return
	}

	summary, err := s.Scheduler.Tick(c.Request.Context(), config.Conf.TickLimit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "tick failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func (s *Server) TriggerTick(c *gin.Context) {
	limit := config.Conf.TickLimit

	rawLimit := c.Query("limit")
	if rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}

		limit = parsed
	}

	summary, err := s.Scheduler.Tick(c.Request.Context(), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "tick failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// VoiceAnswer speaks the reminder prompt when the contact picks up. Twilio
// expects TwiML on every response, so even an unknown reminder hangs up with
// a 200 rather than erroring.
func (s *Server) VoiceAnswer(c *gin.Context) {
	reminderID := c.Query("reminderId")

	r, err := s.Store.Get(c.Request.Context(), reminderID)
	if err != nil {
		response := &twiml.Response{}
		response.Append(twiml.Say{Text: "Sorry, this reminder is no longer available. Goodbye."}, twiml.Hangup{})
		s.renderTwiML(c, response)

		return
	}

	response := twiml.AnswerPrompt(r.Title, gatherAction(reminderID))
	s.renderTwiML(c, response)
}

// VoiceGather classifies the keypad or spoken response and answers with the
// matching prompt.
func (s *Server) VoiceGather(c *gin.Context) {
	reminderID := c.Query("reminderId")
	callSID := c.PostForm("CallSid")
	digits := c.PostForm("Digits")
	speech := c.PostForm("SpeechResult")

	intent, err := s.Outcomes.ApplyGather(
		c.Request.Context(),
		reminderID, callSID, digits, speech,
		formPayload(c),
	)
	if err != nil {
		logging.Logger.Error("failed to apply gather",
			zap.String("reminder_id", utils.ShortID(reminderID)),
			zap.String("call_sid", callSID),
			zap.String("error", err.Error()),
		)
	}

	var response *twiml.Response

	switch intent {
	case reminder.IntentConfirm:
		response = twiml.GatherReply(true)
	case reminder.IntentSnooze:
		response = twiml.SnoozeReply()
	default:
		response = twiml.GatherReply(false)
	}

	s.renderTwiML(c, response)
}

// VoiceStatus consumes call status callbacks. The engine decides whether the
// reminder completes, retries or escalates; a recording URL, when present,
// is archived off the request path.
func (s *Server) VoiceStatus(c *gin.Context) {
	reminderID := c.Query("reminderId")
	callSID := c.PostForm("CallSid")
	callStatus := c.PostForm("CallStatus")
	recordingURL := c.PostForm("RecordingUrl")

	err := s.Outcomes.ApplyCallStatus(
		c.Request.Context(),
		reminderID, callSID, callStatus,
		formPayload(c),
	)
	if err != nil {
		if errors.Is(err, reminder.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "reminder not found"})
			return
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to apply call status"})

		return
	}

	s.Archiver.Archive(reminderID, callSID, recordingURL)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) renderTwiML(c *gin.Context, response *twiml.Response) {
	body, err := response.Render()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml render failed"})
		return
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, body)
}

func gatherAction(reminderID string) string {
	base := strings.TrimSuffix(config.Conf.AppBaseURL, "/")

	return base + "/voice/gather?reminderId=" + url.QueryEscape(reminderID)
}

// formPayload snapshots the webhook form for the audit log.
func formPayload(c *gin.Context) datatypes.JSON {
	err := c.Request.ParseForm()
	if err != nil {
		return nil
	}

	flat := make(map[string]string, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			flat[key] = values[0]
		}
	}

	payload, err := json.Marshal(flat)
	if err != nil {
		return nil
	}

	return datatypes.JSON(payload)
}
