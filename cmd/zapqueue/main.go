// SPDX-License-Identifier: MIT

// Command zapqueue enqueues one outbound message for the bridge daemon by
// writing the durable queue slot atomically. The daemon picks it up on its
// next drain tick, or instantly when file watching is available.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/caioferrari/zapbridge/internal/config"
	"github.com/caioferrari/zapbridge/internal/outbox"
)

var version = "v1.0.0"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	path := flag.String("file", "", "queue slot path (defaults to ZAPBRIDGE_DATA/pending_message.json)")
	to := flag.String("to", "", "recipient phone number or JID")
	message := flag.String("message", "", "message text")
	show := flag.Bool("show", false, "print the pending entry instead of writing one")
	clear := flag.Bool("clear", false, "remove the pending entry without sending it")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slotPath := *path
	if slotPath == "" {
		cfg := config.Defaults()
		cfg.DataDir = config.ParseString("ZAPBRIDGE_DATA", cfg.DataDir)
		slotPath = cfg.DefaultOutboxPath()
	}
	slot := outbox.NewSlot(slotPath)

	switch {
	case *show:
		entry, err := slot.Read()
		if err != nil {
			if errors.Is(err, outbox.ErrEmpty) {
				fmt.Println("queue is empty")
				return
			}
			fatal(err)
		}
		fmt.Printf("to: %s\nmessage: %s\n", entry.To, entry.Message)

	case *clear:
		if err := slot.Delete(); err != nil {
			fatal(err)
		}
		fmt.Println("queue cleared")

	default:
		if *to == "" || *message == "" {
			fmt.Fprintln(os.Stderr, "usage: zapqueue -to <number> -message <text>")
			os.Exit(2)
		}
		err := slot.Write(outbox.Entry{
			Action:  outbox.ActionSendMessage,
			To:      *to,
			Message: *message,
		})
		if err != nil {
			fatal(err)
		}
		fmt.Printf("queued message for %s at %s\n", *to, slot.Path())
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "zapqueue:", err)
	os.Exit(1)
}
