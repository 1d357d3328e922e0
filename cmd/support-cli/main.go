// ABOUTME: Interactive CLI client for support-gateway over websocket
// ABOUTME: Prints incoming chat events and sends commands typed on stdin

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
)

// frame is one websocket envelope in either direction.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// getToken returns the JWT from SUPPORT_TOKEN env var or the config file.
func getToken(cfg *Config) string {
	if token := os.Getenv("SUPPORT_TOKEN"); token != "" {
		return token
	}
	return cfg.Gateway.Token
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Path to cli.toml")
	server := flag.String("server", "", "Gateway URL (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	gatewayURL := cfg.Gateway.URL
	if *server != "" {
		gatewayURL = *server
	}
	if gatewayURL == "" {
		gatewayURL = "http://localhost:8080"
	}

	token := getToken(cfg)
	if token == "" {
		fmt.Fprintln(os.Stderr, "Error: no token configured (set SUPPORT_TOKEN or gateway.token in cli.toml)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, gatewayURL, token); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

// wsURL converts the gateway HTTP URL into the websocket endpoint URL.
func wsURL(gatewayURL string) (string, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return "", fmt.Errorf("parsing gateway URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

func run(ctx context.Context, gatewayURL, token string) error {
	endpoint, err := wsURL(gatewayURL)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connecting to %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return fmt.Errorf("connecting to %s: %w", endpoint, err)
	}
	defer conn.Close()

	fmt.Printf("support-cli connected to %s\n", gatewayURL)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	// Reader goroutine prints server events until the connection drops
	readDone := make(chan error, 1)
	go func() {
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				readDone <- err
				return
			}
			printEvent(f)
		}
	}()

	var currentChat string
	inputCh := make(chan string)
	inputErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			inputCh <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			inputErr <- err
		} else {
			inputErr <- io.EOF
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return nil
		case err := <-readDone:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		case err := <-inputErr:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input := <-inputCh:
			quit, err := handleInput(conn, input, &currentChat)
			if err != nil {
				color.Red("[error] %v", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// handleInput processes one line of stdin. Plain text is sent as a message
// to the current chat; lines starting with / are commands.
func handleInput(conn *websocket.Conn, input string, currentChat *string) (quit bool, err error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return false, nil
	}

	if !strings.HasPrefix(input, "/") {
		if *currentChat == "" {
			return false, fmt.Errorf("no chat selected: /new or /join <chatId> first")
		}
		return false, send(conn, "send-message", map[string]any{
			"chatId":  *currentChat,
			"message": input,
		})
	}

	cmd, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help":
		printHelp()
		return false, nil
	case "/new":
		data := map[string]any{}
		if args != "" {
			data["message"] = args
		}
		return false, send(conn, "create-chat", data)
	case "/join":
		if args == "" {
			return false, fmt.Errorf("usage: /join <chatId>")
		}
		*currentChat = args
		return false, send(conn, "join-chat", map[string]any{"chatId": args})
	case "/leave":
		if *currentChat == "" {
			return false, fmt.Errorf("no chat selected")
		}
		err := send(conn, "leave-chat", map[string]any{"chatId": *currentChat})
		*currentChat = ""
		return false, err
	case "/read":
		if args == "" {
			return false, fmt.Errorf("usage: /read <messageId>")
		}
		return false, send(conn, "mark-read", map[string]any{"messageId": args})
	case "/typing":
		if *currentChat == "" {
			return false, fmt.Errorf("no chat selected")
		}
		return false, send(conn, "typing", map[string]any{"chatId": *currentChat})
	case "/status":
		if args == "" {
			return false, fmt.Errorf("usage: /status <online|away|busy|offline>")
		}
		return false, send(conn, "agent-status", map[string]any{"status": args})
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

func send(conn *websocket.Conn, event string, data any) error {
	if err := conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		return fmt.Errorf("sending %s: %w", event, err)
	}
	return nil
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /new [message]   Create a chat, optionally with a first message")
	fmt.Println("  /join <chatId>   Join a chat and replay its history")
	fmt.Println("  /leave           Leave the current chat")
	fmt.Println("  /read <msgId>    Mark a message as read")
	fmt.Println("  /typing          Send a typing indicator")
	fmt.Println("  /status <s>      Set agent status (agent tokens only)")
	fmt.Println("  /help            Show this help")
	fmt.Println("  /quit            Exit")
	fmt.Println()
	fmt.Println("Anything else is sent as a message to the current chat.")
}

// printEvent renders one server event. Unknown events fall back to raw JSON
// so new server features stay visible.
func printEvent(f frame) {
	gray := color.New(color.FgHiBlack)
	ts := time.Now().Format("15:04:05")

	switch f.Event {
	case "chat-created":
		var d struct {
			ID      string `json:"id"`
			AgentID string `json:"agentId"`
		}
		_ = json.Unmarshal(f.Data, &d)
		gray.Printf("%s ", ts)
		color.Green("chat created: %s (agent: %s)", d.ID, orDash(d.AgentID))
	case "join-chat-success":
		var d struct {
			ChatID   string `json:"chatId"`
			Messages []struct {
				SenderID string `json:"senderId"`
				Message  string `json:"message"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(f.Data, &d)
		gray.Printf("%s ", ts)
		color.Green("joined %s (%d messages)", d.ChatID, len(d.Messages))
		for _, m := range d.Messages {
			gray.Printf("    %s: %s\n", m.SenderID, m.Message)
		}
	case "message-received":
		var d struct {
			SenderID   string `json:"senderId"`
			SenderType string `json:"senderType"`
			Message    string `json:"message"`
			FileURL    string `json:"fileUrl"`
		}
		_ = json.Unmarshal(f.Data, &d)
		gray.Printf("%s ", ts)
		name := color.CyanString(d.SenderID)
		if d.SenderType == "agent" {
			name = color.MagentaString(d.SenderID)
		}
		fmt.Printf("%s: %s", name, d.Message)
		if d.FileURL != "" {
			gray.Printf(" [%s]", d.FileURL)
		}
		fmt.Println()
	case "message-delivered":
		var d struct {
			MessageID string `json:"messageId"`
		}
		_ = json.Unmarshal(f.Data, &d)
		gray.Printf("%s delivered %s\n", ts, d.MessageID)
	case "message-read":
		var d struct {
			MessageID string `json:"messageId"`
			ReadBy    string `json:"readBy"`
		}
		_ = json.Unmarshal(f.Data, &d)
		gray.Printf("%s read %s by %s\n", ts, d.MessageID, d.ReadBy)
	case "user-typing":
		var d struct {
			UserID   string `json:"userId"`
			IsTyping bool   `json:"isTyping"`
		}
		_ = json.Unmarshal(f.Data, &d)
		if d.IsTyping {
			gray.Printf("%s %s is typing...\n", ts, d.UserID)
		}
	case "user-joined", "user-left":
		var d struct {
			UserID string `json:"userId"`
			ChatID string `json:"chatId"`
		}
		_ = json.Unmarshal(f.Data, &d)
		verb := "joined"
		if f.Event == "user-left" {
			verb = "left"
		}
		gray.Printf("%s %s %s %s\n", ts, d.UserID, verb, d.ChatID)
	case "agent-status-updated":
		var d struct {
			AgentID string `json:"agentId"`
			Status  string `json:"status"`
		}
		_ = json.Unmarshal(f.Data, &d)
		gray.Printf("%s agent %s is now ", ts, d.AgentID)
		switch d.Status {
		case "online":
			color.Green("online")
		case "offline":
			color.Red("offline")
		default:
			color.Yellow("%s", d.Status)
		}
	case "chat-closed":
		var d struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(f.Data, &d)
		gray.Printf("%s ", ts)
		color.Yellow("chat %s closed", d.ID)
	case "error":
		var d struct {
			Message string `json:"message"`
			Event   string `json:"event"`
		}
		_ = json.Unmarshal(f.Data, &d)
		gray.Printf("%s ", ts)
		if d.Event != "" {
			color.Red("error (%s): %s", d.Event, d.Message)
		} else {
			color.Red("error: %s", d.Message)
		}
	default:
		gray.Printf("%s %s %s\n", ts, f.Event, string(f.Data))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
