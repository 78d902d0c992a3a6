package main

import (
	"log"

	"github.com/MrSnakeDoc/sitewatch/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ sitewatch failed: %v", err)
	}
}
