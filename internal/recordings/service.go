package recordings

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/minio"
	prometheusChime "git.mci.dev/mse/sre/phoenix/golang/chime/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/utils"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var ErrRecordingDownload = errors.New("recording download request failed")

// Archiver copies provider call recordings into object storage. Archival is
// best effort and runs off the webhook path on its own pool; a failed copy
// never affects reminder state.
type Archiver struct {
	Minio *minio.MinioClient
	Pool  *ants.Pool
}

func NewArchiver(minioClient *minio.MinioClient) (*Archiver, error) {
	pool, err := ants.NewPool(config.Conf.RecordingPoolSize)
	if err != nil {
		return nil, err
	}

	return &Archiver{
		Minio: minioClient,
		Pool:  pool,
	}, nil
}

func (a *Archiver) Close() {
	if a == nil {
		return
	}

	a.Pool.Release()
}

// Archive schedules one recording copy. A nil Archiver (object storage not
// configured) drops the request silently.
func (a *Archiver) Archive(reminderID, callSID, recordingURL string) {
	if a == nil || recordingURL == "" {
		return
	}

	err := a.Pool.Submit(func() {
		a.archive(reminderID, callSID, recordingURL)
	})
	if err != nil {
		logging.Logger.Error("failed to submit recording job to ants pool",
			zap.String("call_sid", callSID),
			zap.String("error", err.Error()),
		)
	}
}

func (a *Archiver) archive(reminderID, callSID, recordingURL string) {
	defer func() {
		rec := recover()
		if rec != nil {
			logging.Logger.Error("panic while archiving recording",
				zap.String("call_sid", callSID),
				zap.Any("panic", rec),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.Conf.MinioTimeout)*time.Second)
	defer cancel()

	buf, err := a.download(ctx, recordingURL)
	if err != nil {
		logging.Logger.Error("failed to download recording",
			zap.String("reminder_id", utils.ShortID(reminderID)),
			zap.String("call_sid", callSID),
			zap.String("error", err.Error()),
		)

		return
	}

	objectKey := reminderID + "/" + callSID + ".mp3"

	_, err = a.Minio.Upload(ctx, buf, objectKey)
	if err != nil {
		logging.Logger.Error("failed to upload recording",
			zap.String("reminder_id", utils.ShortID(reminderID)),
			zap.String("call_sid", callSID),
			zap.String("error", err.Error()),
		)

		return
	}

	prometheusChime.RecordingsArchived.Inc()
}

func (a *Archiver) download(ctx context.Context, recordingURL string) (*bytes.Buffer, error) {
	// Twilio serves the WAV at the base URL and the MP3 with an extension.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL+".mp3", nil)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(config.Conf.TwilioAccountSID, config.Conf.TwilioAuthToken)

	client := &http.Client{
		Timeout: time.Duration(config.Conf.TwilioTimeout) * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		cerr := resp.Body.Close()
		if cerr != nil {
			logging.Logger.Error("Failed to close response body", zap.String("error", cerr.Error()))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrRecordingDownload
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return bytes.NewBuffer(data), nil
}
