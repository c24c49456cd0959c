package cmd

import (
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"
)

func sendCmd() *cli.Command {
	return &cli.Command{
		Name: "send",
		Usage: "push one payload over a WebSocket endpoint for smoke-testing the wiring",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "endpoint", Usage: "ws:// URL of a running transport listener", Required: true},
			&cli.StringFlag{Name: "payload", Required: true},
		},
		Action: func(c *cli.Context) error {
			conn, _, err := websocket.DefaultDialer.Dial(c.String("endpoint"), nil)
			if err != nil {
				return fmt.Errorf("send: dial: %w", err)
			}
			defer conn.Close()

			if err := conn.WriteMessage(websocket.BinaryMessage, []byte(c.String("payload"))); err != nil {
				return fmt.Errorf("send: write: %w", err)
			}
			fmt.Println("sent")
			return nil
		},
	}
}
