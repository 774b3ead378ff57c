package main

import (
	"net/http"
	"os"

	_ "net/http/pprof" // profiling

	charmlog "github.com/charmbracelet/log"

	"cof/internal/cof/cmd"
	"cof/internal/cof/log"
)

func main() {
	defer log.RecoverPanic("main", func() {
		charmlog.Error("Application terminated due to unhandled panic")
	})

	if os.Getenv("COF_PROFILE") != "" {
		go func() {
			charmlog.Info("Serving pprof at localhost:6060")
			if httpErr := http.ListenAndServe("localhost:6060", nil); httpErr != nil {
				charmlog.Error("Failed to pprof listen", "error", httpErr)
			}
		}()
	}

	cmd.Execute()
}
