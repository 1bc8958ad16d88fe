package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, log.StandardLogger()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
