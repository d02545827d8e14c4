package test

import (
	"fmt"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/reminder"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	testDBUser     = "chime"
	testDBPassword = "chime"
	testDBName     = "chime_test"
)

// startPostgres runs a disposable Postgres container and returns a connection
// with the reminder schema applied. Tests are skipped when no Docker daemon
// is reachable.
func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("dockertest pool unavailable: %v", err)
	}

	err = pool.Client.Ping()
	if err != nil {
		t.Skipf("docker daemon unreachable: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "14-alpine",
		Env: []string{
			"POSTGRES_USER=" + testDBUser,
			"POSTGRES_PASSWORD=" + testDBPassword,
			"POSTGRES_DB=" + testDBName,
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = pool.Purge(resource)
	})

	require.NoError(t, resource.Expire(300))

	hostPort := resource.GetPort("5432/tcp")
	dsn := fmt.Sprintf(
		"host=localhost user=%s password=%s dbname=%s port=%s sslmode=disable",
		testDBUser, testDBPassword, testDBName, hostPort,
	)

	var db *gorm.DB

	pool.MaxWait = 60 * time.Second

	err = pool.Retry(func() error {
		var openErr error

		db, openErr = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if openErr != nil {
			return openErr
		}

		sqlDB, openErr := db.DB()
		if openErr != nil {
			return openErr
		}

		return sqlDB.Ping()
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&reminder.Reminder{}, &reminder.CallLog{}))

	return db
}
