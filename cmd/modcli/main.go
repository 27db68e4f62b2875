// Package main provides the moderator CLI entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/speakerq/internal/api/connect"
	"github.com/osa030/speakerq/internal/api/realtime"
	"github.com/osa030/speakerq/internal/domain/meeting"
)

var (
	app    = kingpin.New("speakerq-modcli", "speakerq moderator client")
	server = app.Flag("server", "Server address").Default("http://localhost:3000").Envar("SPEAKERQ_SERVER").String()
	origin = app.Flag("origin", "Frontend origin used to build links").Envar("SPEAKERQ_ORIGIN").String()
	secret = app.Flag("secret", "Moderator PIN (or set SPEAKERQ_SECRET env)").Envar("SPEAKERQ_SECRET").String()

	// create command
	createCmd = app.Command("create", "Create a session")
	createID  = createCmd.Flag("id", "Session ID to reuse instead of generating one").String()

	// state command
	stateCmd     = app.Command("state", "Show the session state")
	stateSession = stateCmd.Arg("session-id", "Session ID").Required().String()

	// lock command
	lockCmd     = app.Command("lock", "Stop accepting new entries")
	lockSession = lockCmd.Arg("session-id", "Session ID").Required().String()

	// unlock command
	unlockCmd     = app.Command("unlock", "Accept new entries again")
	unlockSession = unlockCmd.Arg("session-id", "Session ID").Required().String()

	// qr command
	qrCmd     = app.Command("qr", "Download the join QR code as PNG")
	qrSession = qrCmd.Arg("session-id", "Session ID").Required().String()
	qrLink    = qrCmd.Flag("link", "Link to encode").Default("participant").Enum("participant", "public")
	qrSize    = qrCmd.Flag("size", "Image size in pixels").Default("256").Int()
	qrOut     = qrCmd.Flag("out", "Output file").Short('o').Default("qr.png").String()

	// floor commands, sent over the realtime channel
	promoteCmd     = app.Command("promote", "Move an item to the head of the queue")
	promoteSession = promoteCmd.Arg("session-id", "Session ID").Required().String()
	promoteItem    = promoteCmd.Arg("item-id", "Queue item ID").Required().String()

	startCmd     = app.Command("start", "Give the floor to a queued item")
	startSession = startCmd.Arg("session-id", "Session ID").Required().String()
	startItem    = startCmd.Arg("item-id", "Queue item ID").Required().String()
	startSeconds = startCmd.Flag("seconds", "Ad hoc speaking time").Float64()

	stopCmd     = app.Command("stop", "End the current speaking turn")
	stopSession = stopCmd.Arg("session-id", "Session ID").Required().String()

	maxDurationCmd     = app.Command("max-duration", "Set the speaking time ceiling")
	maxDurationSession = maxDurationCmd.Arg("session-id", "Session ID").Required().String()
	maxDurationSeconds = maxDurationCmd.Arg("seconds", "Ceiling in seconds").Required().Float64()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewSessionServiceClient(http.DefaultClient, *server)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch command {
	case createCmd.FullCommand():
		create(ctx, client, *createID)
	case stateCmd.FullCommand():
		state(ctx, client, *stateSession)
	case lockCmd.FullCommand():
		setLocked(ctx, client, *lockSession, *secret, true)
	case unlockCmd.FullCommand():
		setLocked(ctx, client, *unlockSession, *secret, false)
	case qrCmd.FullCommand():
		downloadQR(ctx, *qrSession, *qrLink, *qrSize, *qrOut)
	case promoteCmd.FullCommand():
		floor(*promoteSession, realtime.FramePromote, realtime.ItemPayload{ItemID: *promoteItem})
	case startCmd.FullCommand():
		payload := realtime.StartPayload{ItemID: *startItem}
		if *startSeconds > 0 {
			payload.AdHocDurationSec = realtime.SecondsOf(*startSeconds)
		}
		floor(*startSession, realtime.FrameStart, payload)
	case stopCmd.FullCommand():
		floor(*stopSession, realtime.FrameStop, nil)
	case maxDurationCmd.FullCommand():
		floor(*maxDurationSession, realtime.FrameUpdateSettings, realtime.SettingsPayload{MaxDurationSec: realtime.SecondsOf(*maxDurationSeconds)})
	}
}

func create(ctx context.Context, client *apiconnect.SessionServiceClient, id string) {
	req := connect.NewRequest(&apiconnect.CreateSessionRequest{ID: id})
	if *origin != "" {
		req.Header().Set(apiconnect.OriginHeader, *origin)
	}
	resp, err := client.CreateSession(ctx, req)
	if err != nil {
		fail(err)
	}

	s := resp.Msg
	fmt.Println("\n=== SESSION CREATED ===")
	fmt.Printf("Session ID: %s\n", s.ID)
	fmt.Printf("Moderator PIN: %s\n", s.ModeratorSecret)
	fmt.Printf("Moderator: %s\n", s.Links.Moderator)
	fmt.Printf("Participant: %s\n", s.Links.Participant)
	fmt.Printf("Public display: %s\n", s.Links.Public)
	fmt.Println()
}

func state(ctx context.Context, client *apiconnect.SessionServiceClient, sessionID string) {
	resp, err := client.GetState(ctx, connect.NewRequest(&apiconnect.GetStateRequest{SessionID: sessionID}))
	if err != nil {
		fail(err)
	}
	printState(os.Stdout, sessionID, &resp.Msg.StateView)
}

func setLocked(ctx context.Context, client *apiconnect.SessionServiceClient, sessionID, secret string, locked bool) {
	req := connect.NewRequest(&apiconnect.SetLockedRequest{SessionID: sessionID, Locked: locked})
	req.Header().Set(apiconnect.ModeratorSecretHeader, secret)
	resp, err := client.SetLocked(ctx, req)
	if err != nil {
		fail(err)
	}

	if resp.Msg.Locked {
		fmt.Println("Queue locked")
	} else {
		fmt.Println("Queue unlocked")
	}
}

func downloadQR(ctx context.Context, sessionID, link string, size int, out string) {
	target := fmt.Sprintf("%s/sessions/%s/qr.png?link=%s&size=%d", *server, url.PathEscape(sessionID), link, size)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		fail(err)
	}
	if *origin != "" {
		req.Header.Set("Origin", *origin)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		fmt.Printf("Error: %s: %s\n", resp.Status, body)
		os.Exit(1)
	}

	f, err := os.Create(out)
	if err != nil {
		fail(err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		fail(err)
	}
	fmt.Printf("Saved %s QR code to %s\n", link, out)
}

// floor joins as moderator and sends one floor control frame.
func floor(sessionID, frameType string, payload any) {
	if *secret == "" {
		fmt.Println("Error: moderator PIN is required (use --secret or SPEAKERQ_SECRET env)")
		os.Exit(1)
	}

	client, err := realtime.Dial(*server, *origin)
	if err != nil {
		fail(err)
	}
	defer client.Close()

	if _, err := client.Request(realtime.FrameJoin, realtime.JoinPayload{
		SessionID: sessionID,
		Role:      "moderator",
		Secret:    *secret,
	}); err != nil {
		fail(err)
	}
	if _, err := client.Request(frameType, payload); err != nil {
		fail(err)
	}
	fmt.Printf("%s: ok\n", frameType)
}

func printState(w io.Writer, sessionID string, s *meeting.StateView) {
	fmt.Fprintf(w, "\n=== SESSION %s ===\n", sessionID)
	fmt.Fprintf(w, "Locked: %v\n", s.Locked)
	fmt.Fprintf(w, "Max Duration: %ds\n", s.Settings.MaxDurationSec)

	if s.Speaking != nil {
		fmt.Fprintln(w, "\nSpeaking:")
		fmt.Fprintf(w, "  %s: %s\n", s.Speaking.DisplayName, s.Speaking.Topic)
		remaining := s.Speaking.Remaining(s.ServerTime).Round(time.Second)
		fmt.Fprintf(w, "  Duration: %ds (remaining %s)\n", s.Speaking.DurationSec, remaining)
	} else {
		fmt.Fprintln(w, "\nNobody is speaking")
	}

	fmt.Fprintf(w, "\nQueue (%d):\n", len(s.Queue))
	for i, item := range s.Queue {
		fmt.Fprintf(w, "  %d. [%s] %s: %s%s\n", i+1, item.ID, item.DisplayName, item.Topic, formatRequested(item.RequestedDurationSec))
	}
	fmt.Fprintln(w)
}

func formatRequested(sec *int) string {
	if sec == nil {
		return ""
	}
	return fmt.Sprintf(" (%ds)", *sec)
}

func fail(err error) {
	if code := connect.CodeOf(err); code != connect.CodeUnknown {
		fmt.Printf("Error [%s]: %v\n", code, err)
	} else {
		fmt.Printf("Error: %v\n", err)
	}
	os.Exit(1)
}
