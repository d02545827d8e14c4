package healthchecker

import (
	"bytes"
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/minio"
	"go.uber.org/zap"
)

var testFileKey = "healthcheck.txt"

func CheckMinio() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	minioClient, err := minio.NewMinioClient()
	if err != nil {
		logging.Logger.Error("failed to create new minio client", zap.String("error", err.Error()))
		return err
	}

	buf := bytes.NewBufferString("healthcheck")

	_, err = minioClient.Upload(ctx, buf, testFileKey)

	return err
}
