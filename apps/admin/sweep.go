package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) sweep() error {
	removed, err := cli.attSvc.Sweep(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("removed %d session(s)\n", removed)
	return nil
}
