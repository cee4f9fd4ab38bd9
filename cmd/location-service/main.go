// Package main is the location-service entry point (HTTP + WebSocket).
package main

import (
	"log"

	"github.com/livetrack/location-service/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
