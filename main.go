package main

import (
	"log"

	"github.com/spigell/job-crawler/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
