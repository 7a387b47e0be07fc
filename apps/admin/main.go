package main

import (
	"log"
	"os"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/storage/database"
	sqlxrepos "github.com/trezcool/mahudhurio/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()
	errAndDie(db.Ping())

	attSvc := attendance.NewService(
		sqlxrepos.NewAttendanceRepository(db),
		sqlxrepos.NewClassRepository(db),
		core.NewClock(),
		conf,
	)

	// start CLI
	cli := commandLine{
		db:     db,
		attSvc: attSvc,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
