package healthchecker

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	"go.uber.org/zap"
)

var ErrTwilioUnhealthy = errors.New("twilio account endpoint returned non-200")

func CheckTwilio() error {
	if config.Conf.TwilioMock {
		return nil
	}

	apiUrl, err := url.JoinPath(
		config.Conf.TwilioBaseUrl,
		"2010-04-01", "Accounts", config.Conf.TwilioAccountSID+".json",
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.Conf.TwilioTimeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiUrl, nil)
	if err != nil {
		return err
	}

	req.SetBasicAuth(config.Conf.TwilioAccountSID, config.Conf.TwilioAuthToken)

	client := &http.Client{
		Timeout: time.Duration(config.Conf.TwilioTimeout) * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		cerr := resp.Body.Close()
		if cerr != nil {
			logging.Logger.Error("Failed to close response body", zap.String("error", cerr.Error()))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return ErrTwilioUnhealthy
	}

	return nil
}
