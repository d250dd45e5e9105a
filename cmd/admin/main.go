package main

import (
	"os"

	"schoolchat/internal/config"
	"schoolchat/internal/db"
	"schoolchat/internal/logger"
)

func main() {
	log := logger.New("ADMIN")
	cfg := config.Load()

	database, err := db.NewDB(cfg.DatabaseDriver(), cfg.DataSource())
	if err != nil {
		log.Fatal(err, "Failed to connect to database")
	}
	defer database.Close()

	cli := &commandLine{db: database, out: os.Stdout}
	if err := cli.run(os.Args); err != nil {
		if err == errHelp {
			return
		}
		log.Error(err, "admin command failed")
		database.Close()
		os.Exit(1)
	}
}
