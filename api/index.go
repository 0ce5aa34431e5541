package handler

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/wadjakorntonsri/go-scanlink/pkg/app"
	"github.com/wadjakorntonsri/go-scanlink/pkg/config"
)

var mux http.Handler

func init() {
	cfg, err := config.Load(".")
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Function instances are short lived: use a remote DATABASE_URL (libsql or postgres).
	a, err := app.New(context.Background(), cfg, cfg.NewLogger())
	if err != nil {
		panic(err)
	}
	mux = a.Router
}

// Handler is the entrypoint for Vercel
func Handler(w http.ResponseWriter, r *http.Request) {
	mux.ServeHTTP(w, r)
}
