package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"storefront/pkg/config"
	"storefront/pkg/telegram"
)

// siminitdata mints init data the way the Telegram client would, for poking a
// local server without opening the mini-app.
func main() {
	var (
		userID   = flag.Int64("user", 0, "telegram user id")
		first    = flag.String("first-name", "Dev", "first_name in the user object")
		username = flag.String("username", "", "username in the user object")
		age      = flag.Duration("age", 0, "how long ago the payload was issued")
		botToken = flag.String("bot-token", "", "TELEGRAM_BOT_TOKEN (defaults to env/.env)")
		url      = flag.String("url", "", "if set, send a request with the payload to this url")
		method   = flag.String("method", http.MethodGet, "request method used with -url")
		platform = flag.String("platform", "", "optional X-Telegram-Platform header")
	)
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "missing -user")
		os.Exit(2)
	}

	cfg := config.Load()
	if *botToken == "" {
		*botToken = cfg.Telegram.BotToken
	}
	if *botToken == "" {
		fmt.Fprintln(os.Stderr, "missing -bot-token (or TELEGRAM_BOT_TOKEN in env/.env)")
		os.Exit(2)
	}

	user := map[string]any{"id": *userID, "first_name": *first}
	if *username != "" {
		user["username"] = *username
	}
	ub, err := json.Marshal(user)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode user: %v\n", err)
		os.Exit(2)
	}

	payload := telegram.Sign(map[string]string{
		"user":      string(ub),
		"query_id":  fmt.Sprintf("DEV%d", time.Now().UnixNano()),
		"chat_type": "sender",
	}, *botToken, time.Now().Add(-*age))

	if *url == "" {
		fmt.Println(payload)
		return
	}

	req, err := http.NewRequest(*method, *url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "new request: %v\n", err)
		os.Exit(2)
	}
	req.Header.Set("Authorization", "tma "+payload)
	if *platform != "" {
		req.Header.Set("X-Telegram-Platform", *platform)
	}

	c := &http.Client{Timeout: 10 * time.Second}
	resp, err := c.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("status=%d\n%s\n", resp.StatusCode, string(body))
	for _, ck := range resp.Cookies() {
		fmt.Printf("cookie %s (expires %s)\n", ck.Name, ck.Expires.Format(time.RFC3339))
	}
}
