// Command player is a headless session client: it joins a coordinator
// session, prints stage snapshots, and turns stdin lines into chat or
// slash commands. Useful for exercising a coordinator without a browser.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/turinggame/core/internal/channel"
	"github.com/turinggame/core/internal/config"
	"github.com/turinggame/core/internal/contract"
	"github.com/turinggame/core/internal/controller"
	"github.com/turinggame/core/internal/stage"
)

func main() {
	cfg := config.FromEnv()

	session := flag.String("session", "", "session code to join (required)")
	url := flag.String("url", cfg.CoordinatorURL, "coordinator websocket url")
	wallet := flag.String("wallet", "0xplayer", "wallet address for the wager")
	name := flag.String("name", "player", "display alias")
	flag.Parse()

	if *session == "" {
		fmt.Fprintln(os.Stderr, "usage: player -session CODE [-url ws://...] [-wallet 0x...] [-name alias]")
		os.Exit(2)
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	wlt := contract.NewStaticWallet(*wallet)
	addr, err := wlt.Authenticate(context.Background())
	if err != nil {
		log.Fatal("wallet", zap.Error(err))
	}

	ch := channel.New(*url, channel.ReconnectPolicy{
		AutoReconnect: true,
		MaxAttempts:   5,
		Backoff:       time.Second,
	}, log)

	ctrl, err := controller.New(context.Background(), controller.Config{
		SessionID: *session,
		GameID:    *session,
		Local: stage.Player{
			ID:            *name,
			Alias:         *name,
			WalletAddress: addr,
			HasJoined:     true,
			Kind:          stage.KindHuman,
		},
		Timings: cfg.Timings,
		AISeats: cfg.AISeats,
	}, ch, contract.NewMemoryLedger(), log)
	if err != nil {
		log.Fatal("connect", zap.Error(err))
	}
	defer ctrl.Close()

	go func() {
		for snap := range ctrl.Updates() {
			printSnapshot(snap)
		}
	}()
	go func() {
		for msg := range ctrl.Notices() {
			fmt.Printf("! %s\n", msg)
		}
	}()

	fmt.Println("commands: /start, /vote <id>=human|ai ..., anything else is chat")
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/start":
			if err := ctrl.StartGame(); err != nil {
				fmt.Printf("! start: %v\n", err)
			}
		case strings.HasPrefix(line, "/vote"):
			votes, err := parseVotes(strings.Fields(line)[1:])
			if err != nil {
				fmt.Printf("! vote: %v\n", err)
				continue
			}
			if err := ctrl.SubmitVote(votes); err != nil {
				fmt.Printf("! vote: %v\n", err)
			}
		default:
			if err := ctrl.SendChat(line); err != nil {
				fmt.Printf("! chat: %v\n", err)
			}
		}
	}
}

func parseVotes(args []string) (map[string]stage.Classification, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no guesses given")
	}
	votes := make(map[string]stage.Classification, len(args))
	for _, arg := range args {
		id, guess, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("bad guess %q, want id=human or id=ai", arg)
		}
		switch guess {
		case "human":
			votes[id] = stage.ClassHuman
		case "ai":
			votes[id] = stage.ClassAI
		default:
			return nil, fmt.Errorf("bad guess %q, want human or ai", guess)
		}
	}
	return votes, nil
}

func printSnapshot(snap controller.Snapshot) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", snap.Phase)
	if snap.Countdown != nil {
		if snap.Urgent {
			fmt.Fprintf(&b, " %ds left!", *snap.Countdown)
		} else {
			fmt.Fprintf(&b, " %ds left", *snap.Countdown)
		}
	}
	if snap.Degraded {
		b.WriteString(" (channel down)")
	}
	if snap.Topic != nil {
		fmt.Fprintf(&b, " topic=%q", snap.Topic.Title)
	}
	if len(snap.Messages) > 0 {
		last := snap.Messages[len(snap.Messages)-1]
		fmt.Fprintf(&b, " | %s: %s", last.SenderID, last.Text)
	}
	if snap.Result != nil {
		if snap.Result.Won {
			fmt.Fprintf(&b, " | you won, payout %s wei", snap.Result.PayoutWei)
		} else {
			b.WriteString(" | you lost")
		}
	}
	fmt.Println(b.String())
}
