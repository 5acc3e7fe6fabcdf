package main

import (
	"narrativeos/cmd/handlers"
	"narrativeos/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
