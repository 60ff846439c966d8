// roomcast CLI - command line client for a roomcast server
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"

	"github.com/eldtechnologies/roomcast/clients/go/roomcast"
	"github.com/eldtechnologies/roomcast/internal/models"
	"github.com/eldtechnologies/roomcast/internal/protocol"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := roomcast.NewClient(os.Getenv("ROOMCAST_URL"), os.Getenv("ROOMCAST_TOKEN"))
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "create":
		need(3, "Usage: roomcast create <name>")
		room, err := client.CreateRoom(ctx, os.Args[2])
		exitOnError(err)
		fmt.Printf("Created room: %s\n", room.ID)

	case "direct":
		need(3, "Usage: roomcast direct <user_id>")
		room, created, err := client.DirectRoom(ctx, parseID(os.Args[2]))
		exitOnError(err)
		fmt.Printf("Direct room: %s (created: %t)\n", room.ID, created)

	case "add":
		need(4, "Usage: roomcast add <room_id> <user_id> [admin|member]")
		role := models.RoleMember
		if len(os.Args) > 4 {
			role = models.Role(os.Args[4])
		}
		_, err := client.AddMember(ctx, parseID(os.Args[2]), parseID(os.Args[3]), role)
		exitOnError(err)
		fmt.Println("Added")

	case "history":
		need(3, "Usage: roomcast history <room_id>")
		page, err := client.History(ctx, parseID(os.Args[2]), "", 20)
		exitOnError(err)
		for i := len(page.Messages) - 1; i >= 0; i-- {
			msg := page.Messages[i]
			fmt.Printf("[%s] %s: %s (%s)\n", msg.CreatedAt.Format("2006-01-02 15:04:05"), msg.SenderName, msg.Content, msg.Status)
		}

	case "say":
		need(4, "Usage: roomcast say <room_id> <message>")
		stream, err := client.Connect(ctx, parseID(os.Args[2]))
		exitOnError(err)
		defer stream.Close()
		exitOnError(stream.Send(strings.Join(os.Args[3:], " ")))
		for {
			event, err := stream.Next()
			exitOnError(err)
			if e, ok := event.(protocol.Error); ok {
				exitOnError(fmt.Errorf("%s: %s", e.Code, e.Message))
			}
			// Our own message coming back means it was stored.
			if cm, ok := event.(protocol.ChatMessage); ok && cm.MessageType == protocol.MessageTypeMessage &&
				cm.Message == strings.Join(os.Args[3:], " ") {
				fmt.Printf("Sent: %s\n", cm.MessageID)
				return
			}
		}

	case "listen":
		need(3, "Usage: roomcast listen <room_id>")
		stream, err := client.Connect(ctx, parseID(os.Args[2]))
		exitOnError(err)
		go func() {
			<-ctx.Done()
			stream.Close()
		}()
		for {
			event, err := stream.Next()
			if ctx.Err() != nil {
				return
			}
			exitOnError(err)
			printEvent(event)
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func printEvent(event protocol.Event) {
	switch e := event.(type) {
	case protocol.ChatMessage:
		fmt.Printf("[%s] %s: %s\n", e.Timestamp.Format("15:04:05"), e.User, e.Message)
	case protocol.UserStatus:
		fmt.Printf("* %s is %s\n", e.User, e.Status)
	case protocol.TypingStatus:
		if e.IsTyping {
			fmt.Printf("* %s is typing...\n", e.User)
		}
	default:
		printJSON(event)
	}
}

func usage() {
	fmt.Println(`roomcast CLI

Usage: roomcast <command> [options]

Commands:
  health                          Check server health
  create <name>                   Create a group room
  direct <user_id>                Open a direct room with a user
  add <room> <user> [role]        Add a member to a room
  history <room>                  Show recent messages
  say <room> <message>            Send a message
  listen <room>                   Stream room events

Environment:
  ROOMCAST_URL     Server URL (default: http://localhost:8080)
  ROOMCAST_TOKEN   Bearer token (see cmd/sign)`)
}

func need(n int, msg string) {
	if len(os.Args) < n {
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(1)
	}
}

func parseID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	exitOnError(err)
	return id
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
