package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/trezcool/mahudhurio/core/attendance"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db     *sql.DB
	attSvc *attendance.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run DB migrations: up, up-by-one, up-to, down, down-to, redo, reset, status, version, create, fix")
	fmt.Println("  sweep - purge completed sessions past the retention window")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "sweep":
		return cli.sweep()
	default:
		cli.printUsage()
		return errHelp
	}
}
