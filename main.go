package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/zTrix/qemu-compose/cmd"
	"github.com/zTrix/qemu-compose/qerr"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var qe *qerr.Error
		if errors.As(err, &qe) {
			os.Exit(qe.Code())
		}
		os.Exit(1)
	}
}
