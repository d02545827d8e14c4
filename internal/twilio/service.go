package twilio

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/utils"
	"github.com/avast/retry-go"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var (
	ErrCreateCallRequest = errors.New("twilio create call request failed")
	ErrTwilioServerError = errors.New("twilio server error")
)

// InitiateParams describes one outbound reminder call. ReminderID rides along
// on the webhook URLs so inbound callbacks can find their reminder; Target and
// Title are carried for logging.
type InitiateParams struct {
	ReminderID string
	To         string
	Target     string
	Title      string
}

// Dialer places outbound calls and returns the provider call identifier.
type Dialer interface {
	Initiate(ctx context.Context, params InitiateParams) (string, error)
}

// NewDialer picks the REST client or the mock depending on configuration.
func NewDialer() Dialer {
	if config.Conf.TwilioMock {
		return &MockDialer{}
	}

	return NewService()
}

type createCallResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type Service struct {
	CircuitBreaker *gobreaker.CircuitBreaker[[]byte]
}

func NewService() *Service {
	cbSettings := gobreaker.Settings{
		Name:     "Twilio",
		Interval: time.Duration(config.Conf.TwilioIntervalCB) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.Conf.TwilioConsecutiveFailuresCB
		},
		OnStateChange: func(name string, fromState, toState gobreaker.State) {
			logging.Logger.Info("Circuit state changed",
				zap.String("service", name),
				zap.String("from", fromState.String()),
				zap.String("to", toState.String()),
			)

			if toState == gobreaker.StateOpen {
				circuitbreak.TriggerError(circuitbreak.TwilioService)
			}
		},
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, ErrTwilioServerError)
		},
	}

	return &Service{
		CircuitBreaker: gobreaker.NewCircuitBreaker[[]byte](cbSettings),
	}
}

// Initiate creates an outbound call through the Twilio Calls API and returns
// the call SID.
func (twilioService *Service) Initiate(ctx context.Context, params InitiateParams) (string, error) {
	apiUrl, err := url.JoinPath(
		config.Conf.TwilioBaseUrl,
		"2010-04-01", "Accounts", config.Conf.TwilioAccountSID, "Calls.json",
	)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("To", params.To)
	form.Set("From", config.Conf.TwilioPhoneNumber)
	form.Set("Url", webhookURL("/voice/answer", params.ReminderID))
	form.Set("StatusCallback", webhookURL("/voice/status", params.ReminderID))
	form.Set("StatusCallbackMethod", http.MethodPost)
	form.Set("Method", http.MethodPost)
	// Terminal statuses like no-answer arrive with the default completed
	// callback event. Answering machines should not count as a human pickup.
	form.Set("MachineDetection", "Enable")

	body, statusCode, err := twilioService.doRequestWithRetry(ctx, apiUrl, form.Encode())
	if err != nil {
		return "", err
	}

	var response createCallResponse

	err = json.Unmarshal(body, &response)
	if err != nil {
		return "", err
	}

	if statusCode != http.StatusCreated || response.SID == "" {
		logging.Logger.Error("Create call rejected",
			zap.String("to", utils.MaskPhone(params.To)),
			zap.Int("status_code", statusCode),
			zap.Int("code", response.Code),
			zap.String("message", response.Message),
		)

		return "", ErrCreateCallRequest
	}

	logging.Logger.Info("Call created",
		zap.String("reminder_id", utils.ShortID(params.ReminderID)),
		zap.String("to", utils.MaskPhone(params.To)),
		zap.String("target", params.Target),
		zap.String("call_sid", response.SID),
		zap.String("call_status", response.Status),
	)

	return response.SID, nil
}

func (twilioService *Service) doRequestWithRetry(
	ctx context.Context,
	apiUrl string,
	form string,
) ([]byte, int, error) {
	var (
		body       []byte
		statusCode int
	)

	body, err := twilioService.CircuitBreaker.Execute(func() ([]byte, error) {
		err := retry.Do(
			func() error {
				var err error

				body, statusCode, err = twilioService.doRequest(ctx, apiUrl, form)

				return err
			},
			retry.Attempts(config.Conf.TwilioRetryMaxAttempts),
			retry.DelayType(retry.BackOffDelay),
			retry.Delay(time.Duration(config.Conf.TwilioRetryBackoffMin)*time.Second),
			retry.MaxDelay(time.Duration(config.Conf.TwilioRetryBackoffMax)*time.Second),
			retry.Context(ctx),
		)

		if statusCode >= http.StatusInternalServerError {
			return nil, ErrTwilioServerError
		}

		if err != nil {
			return nil, err
		}

		return body, nil
	})
	if err != nil {
		return nil, 0, err
	}

	return body, statusCode, nil
}

func (twilioService *Service) doRequest(ctx context.Context, apiUrl, form string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiUrl, strings.NewReader(form))
	if err != nil {
		return nil, 0, err
	}

	req.SetBasicAuth(config.Conf.TwilioAccountSID, config.Conf.TwilioAuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{
		Timeout: time.Duration(config.Conf.TwilioTimeout) * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}

	defer func() {
		cerr := resp.Body.Close()
		if cerr != nil {
			logging.Logger.Error("Failed to close response body", zap.String("error", cerr.Error()))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}

func webhookURL(path, reminderID string) string {
	base := strings.TrimSuffix(config.Conf.AppBaseURL, "/")

	return base + path + "?reminderId=" + url.QueryEscape(reminderID)
}

// MockDialer fabricates call SIDs without touching the network, for local
// runs and tests. Calls never ring anywhere so status callbacks must be
// driven by hand.
type MockDialer struct{}

func (MockDialer) Initiate(ctx context.Context, params InitiateParams) (string, error) {
	callSID := "mock-" + uuid.NewString()

	logging.Logger.Info("Mock call created",
		zap.String("reminder_id", utils.ShortID(params.ReminderID)),
		zap.String("to", utils.MaskPhone(params.To)),
		zap.String("target", params.Target),
		zap.String("title", params.Title),
		zap.String("call_sid", callSID),
	)

	return callSID, nil
}
