// Package main provides the attendee CLI entry point for testing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/speakerq/internal/api/connect"
	"github.com/osa030/speakerq/internal/api/realtime"
	"github.com/osa030/speakerq/internal/domain/meeting"
)

var (
	app    = kingpin.New("speakerq-attendeecli", "speakerq attendee client for testing")
	server = app.Flag("server", "Server address").Default("http://localhost:3000").Envar("SPEAKERQ_SERVER").String()
	origin = app.Flag("origin", "Origin header sent on the realtime channel").String()

	// enqueue command
	enqueueCmd     = app.Command("enqueue", "Ask for the floor")
	enqueueSession = enqueueCmd.Arg("session-id", "Session ID").Required().String()
	enqueueName    = enqueueCmd.Flag("name", "Display name").Short('n').String()
	enqueueTopic   = enqueueCmd.Flag("topic", "What you want to talk about").Short('t').String()
	enqueueSeconds = enqueueCmd.Flag("seconds", "Requested speaking time").Float64()
	enqueueFollow  = enqueueCmd.Flag("follow", "Keep the connection open and print updates").Bool()

	// withdraw command
	withdrawCmd     = app.Command("withdraw", "Remove a queue item")
	withdrawSession = withdrawCmd.Arg("session-id", "Session ID").Required().String()
	withdrawItem    = withdrawCmd.Arg("item-id", "Queue item ID").Required().String()

	// watch command
	watchCmd     = app.Command("watch", "Watch a session as a public display")
	watchSession = watchCmd.Arg("session-id", "Session ID").Required().String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	switch command {
	case enqueueCmd.FullCommand():
		enqueue(*enqueueSession, *enqueueName, *enqueueTopic, *enqueueSeconds, *enqueueFollow)
	case withdrawCmd.FullCommand():
		withdraw(*withdrawSession, *withdrawItem)
	case watchCmd.FullCommand():
		watch(*watchSession)
	}
}

func join(sessionID, displayName string) *realtime.Client {
	client, err := realtime.Dial(*server, *origin)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	client.OnEvent = func(f realtime.Frame) { printFrame(os.Stdout, f) }

	ack, err := client.Request(realtime.FrameJoin, realtime.JoinPayload{
		SessionID:   sessionID,
		DisplayName: displayName,
		Role:        "attendee",
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if ack.State != nil {
		printState(os.Stdout, ack.State)
	}
	return client
}

func enqueue(sessionID, displayName, topic string, seconds float64, follow bool) {
	client := join(sessionID, displayName)
	defer client.Close()

	payload := realtime.EnqueuePayload{Topic: topic}
	if seconds > 0 {
		payload.RequestedDurationSec = realtime.SecondsOf(seconds)
	}
	ack, err := client.Request(realtime.FrameEnqueue, payload)
	if err != nil {
		fmt.Printf("Rejected: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Queued! Your item ID: %s\n", ack.ItemID)

	if follow {
		follows(client)
	}
}

func withdraw(sessionID, itemID string) {
	client := join(sessionID, "")
	defer client.Close()

	if _, err := client.Request(realtime.FrameWithdraw, realtime.ItemPayload{ItemID: itemID}); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Withdrawn")
}

// follows prints pushed frames until the connection drops or Ctrl+C.
func follows(client *realtime.Client) {
	fmt.Println("Following updates. Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = client.Close()
	}()

	for {
		frame, err := client.Next()
		if err != nil {
			return
		}
		printFrame(os.Stdout, frame)
	}
}

func watch(sessionID string) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := apiconnect.NewSessionServiceClient(http.DefaultClient, *server)
	stream, err := client.WatchSession(ctx, connect.NewRequest(&apiconnect.WatchSessionRequest{SessionID: sessionID}))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	fmt.Println("Watching session. Press Ctrl+C to exit.")

	for stream.Receive() {
		printEvent(os.Stdout, stream.Msg())
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}

func printEvent(w io.Writer, e *apiconnect.SessionEvent) {
	fmt.Fprintf(w, "\n[Sequence: %d] ", e.SequenceNo)
	switch e.Type {
	case realtime.FrameQueueUpdated:
		fmt.Fprintln(w, "=== QUEUE UPDATED ===")
		printQueue(w, e.Queue)
	case realtime.FrameStateUpdated:
		fmt.Fprintln(w, "=== STATE UPDATED ===")
		if e.State != nil {
			printState(w, e.State)
		}
	default:
		fmt.Fprintf(w, "=== UNKNOWN EVENT (%s) ===\n", e.Type)
	}
}

func printFrame(w io.Writer, f realtime.Frame) {
	switch f.Type {
	case realtime.FrameQueueUpdated:
		var p realtime.QueueUpdatedPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return
		}
		fmt.Fprintf(w, "\n[Sequence: %d] === QUEUE UPDATED ===\n", p.Seq)
		printQueue(w, p.Queue)
	case realtime.FrameStateUpdated:
		var p realtime.StateUpdatedPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.State == nil {
			return
		}
		fmt.Fprintf(w, "\n[Sequence: %d] === STATE UPDATED ===\n", p.Seq)
		printState(w, p.State)
	default:
		fmt.Fprintf(w, "\n=== %s === %s\n", f.Type, f.Payload)
	}
}

func printState(w io.Writer, s *meeting.StateView) {
	fmt.Fprintf(w, "Locked: %v, Max Duration: %ds\n", s.Locked, s.Settings.MaxDurationSec)
	if s.Speaking != nil {
		fmt.Fprintf(w, "Speaking: %s (%s) for %ds\n", s.Speaking.DisplayName, s.Speaking.Topic, s.Speaking.DurationSec)
	} else {
		fmt.Fprintln(w, "Nobody is speaking")
	}
	printQueue(w, s.Queue)
}

func printQueue(w io.Writer, queue []meeting.QueueItem) {
	fmt.Fprintf(w, "Queue (%d):\n", len(queue))
	for i, item := range queue {
		fmt.Fprintf(w, "  %d. [%s] %s: %s\n", i+1, item.ID, item.DisplayName, item.Topic)
	}
}
