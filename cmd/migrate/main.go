package main

import (
	"os"

	"github.com/prohmpiriya/contacts-api/pkg/database"
)

func main() {
	cmd := newRootCmd(func(databaseURL string) (migrationRunner, error) {
		return database.NewMigrator(databaseURL)
	})
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
