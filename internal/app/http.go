package app

import (
	"net/http"
	"time"

	"flock/pkg/api"
	"flock/pkg/auth"
	"flock/pkg/banner"
)

const (
	readHeaderTimeout = 10 * time.Second
	// long polls hold the connection for up to 10 minutes (federation
	// update waits), so no write timeout.
	idleTimeout     = 2 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func (a *App) printBanner() {
	banner.Print(a.cfg, a.version)
}

// startHTTP builds the handler stack, starts the listener in a goroutine
// and returns a channel that will carry any server error.
func (a *App) startHTTP() <-chan error {
	srv := api.NewServer(a.engine, a.profiles, a.lists, a.notifs, a.sessions,
		a.fed, a.cfg.MaxBodyBytes(), a.cfg.Accounts.AllowSignups)

	limits := auth.LimitConfig{RPS: a.cfg.Limits.RPS, Burst: a.cfg.Limits.Burst}
	wrapped := auth.Middleware(limits)(srv.Router())

	a.srv = &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           wrapped,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.ListenAndServe()
	}()
	return errCh
}
