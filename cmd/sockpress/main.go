// Command sockpress serves the session-sharing socket bridge with a single
// "echo" route: every echo event is answered with echo_reply on the same
// connection.
package main

import (
	"encoding/json"
	"log"

	"sockpress/cmd/internal/app"
	"sockpress/cmd/internal/realtime"
)

func main() {
	if err := app.Run(registerRoutes); err != nil {
		log.Fatal(err)
	}
}

func registerRoutes(a *app.App) error {
	return a.HandleFunc("echo", func(c *realtime.Conn, data json.RawMessage) {
		_ = c.Emit("echo_reply", data)
	})
}
