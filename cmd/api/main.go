package main

import (
	"context"
	"log"

	"github.com/Apurer/go-annotation-service/internal/app/api"
)

func main() {
	if err := api.Run(context.Background()); err != nil {
		log.Fatalf("annotation API failed: %v", err)
	}
}
