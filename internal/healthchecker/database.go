package healthchecker

import (
	"git.mci.dev/mse/sre/phoenix/golang/chime/internal/database"
)

func CheckDB() error {
	_, err := database.NewDatabase()
	return err
}
