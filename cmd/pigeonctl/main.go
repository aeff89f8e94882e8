package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/pigeon/internal/admin"
	"github.com/matheus3301/pigeon/internal/auth"
	"github.com/matheus3301/pigeon/internal/config"
	"github.com/matheus3301/pigeon/internal/lock"
	"github.com/matheus3301/pigeon/internal/store"
	"github.com/spf13/pflag"
	"google.golang.org/protobuf/encoding/protojson"
)

type globals struct {
	cfg     *config.Config
	path    string
	jsonOut bool
}

func main() {
	var g globals
	var instance string

	flagSet := pflag.NewFlagSet("pigeonctl", pflag.ContinueOnError)
	flagSet.StringVarP(&g.path, "config", "c", config.Path(), "config file")
	flagSet.StringVar(&instance, "instance", "", "instance name (overrides config)")
	flagSet.BoolVar(&g.jsonOut, "json", false, "output in JSON format")
	flagSet.SetInterspersed(false)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage()
			return
		}
		fail(err)
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "init" {
		cmdInit(g.path)
		return
	}

	cfg, err := config.LoadOrDefault(g.path)
	if err != nil {
		fail(err)
	}
	if instance != "" {
		if err := config.ValidateInstance(instance); err != nil {
			fail(err)
		}
		cfg.Instance = instance
	}
	g.cfg = cfg

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, g)
	case "user":
		if len(args) != 4 || args[1] != "add" {
			usage("pigeonctl user add <username> <password>")
		}
		cmdUserAdd(ctx, g, args[2], args[3])
	case "token":
		if len(args) != 2 {
			usage("pigeonctl token <username>")
		}
		cmdToken(ctx, g, args[1])
	case "friend":
		if len(args) != 5 || args[1] != "set" {
			usage("pigeonctl friend set <username> <username> <pending|accepted|declined|blocked>")
		}
		cmdFriendSet(ctx, g, args[2], args[3], store.FriendshipState(args[4]))
	case "history":
		if len(args) != 3 {
			usage("pigeonctl history <username> <username>")
		}
		cmdHistory(ctx, g, args[1], args[2])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: pigeonctl [--config <path>] [--instance <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init                          Write a config file with a fresh JWT secret")
	fmt.Fprintln(os.Stderr, "  status                        Show daemon status")
	fmt.Fprintln(os.Stderr, "  user add <name> <password>    Create a user")
	fmt.Fprintln(os.Stderr, "  token <name>                  Issue a bearer token for a user")
	fmt.Fprintln(os.Stderr, "  friend set <a> <b> <state>    Set the friendship between two users")
	fmt.Fprintln(os.Stderr, "  history <a> <b>               Print the messages between two users")
}

func usage(line string) {
	fmt.Fprintf(os.Stderr, "usage: %s\n", line)
	os.Exit(1)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdInit(path string) {
	if _, err := os.Stat(path); err == nil {
		fail(fmt.Errorf("%s already exists", path))
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		fail(err)
	}
	cfg := config.Default()
	cfg.JWTSecret = hex.EncodeToString(secret)
	if err := config.Save(path, cfg); err != nil {
		fail(err)
	}
	fmt.Printf("Wrote %s\n", path)
}

type statusOutput struct {
	Instance string `json:"instance"`
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	Listen   string `json:"listen,omitempty"`
	Started  string `json:"started,omitempty"`
	Health   any    `json:"health,omitempty"`
}

func cmdStatus(ctx context.Context, g globals) {
	out := statusOutput{Instance: g.cfg.Instance}

	holder, err := lock.Inspect(g.cfg.InstanceDir())
	if err == nil {
		out.Running = true
		out.PID = holder.PID
		out.Listen = holder.Listen
		out.Started = holder.Started.Format(time.RFC3339)
	}

	var health string
	if out.Running {
		c, err := admin.Dial(g.cfg.SocketPath())
		if err != nil {
			fail(fmt.Errorf("cannot connect to daemon for instance %q: %w", g.cfg.Instance, err))
		}
		defer func() { _ = c.Close() }()
		resp, err := c.Check(ctx)
		switch {
		case err != nil:
			// A lock file without a live socket is left by a crashed daemon.
			health = "UNREACHABLE"
			out.Health = map[string]string{"status": health, "error": err.Error()}
		case g.jsonOut:
			health = resp.GetStatus().String()
			raw, err := protojson.Marshal(resp)
			if err != nil {
				fail(err)
			}
			out.Health = json.RawMessage(raw)
		default:
			health = resp.GetStatus().String()
		}
	}

	if g.jsonOut {
		outputJSON(out)
		return
	}
	fmt.Printf("Instance: %s\n", out.Instance)
	if !out.Running {
		fmt.Println("Status:   not running")
		return
	}
	fmt.Printf("Status:   %s\n", health)
	fmt.Printf("PID:      %d\n", out.PID)
	fmt.Printf("Listen:   %s\n", out.Listen)
	fmt.Printf("Started:  %s\n", out.Started)
}

func openStore(g globals) *store.DB {
	if err := g.cfg.EnsureDirs(); err != nil {
		fail(err)
	}
	db, err := store.Open(g.cfg.DBPath())
	if err != nil {
		fail(err)
	}
	if _, err := db.Migrate(); err != nil {
		fail(err)
	}
	return db
}

func mustFindUser(ctx context.Context, db *store.DB, username string) *store.User {
	u, err := db.FindUserByUsername(ctx, username)
	if err != nil {
		fail(err)
	}
	if u == nil {
		fail(fmt.Errorf("no user named %q", username))
	}
	return u
}

func cmdUserAdd(ctx context.Context, g globals, username, password string) {
	db := openStore(g)
	defer func() { _ = db.Close() }()

	u, err := db.CreateUser(ctx, username, password)
	if err != nil {
		fail(err)
	}
	if g.jsonOut {
		outputJSON(u)
		return
	}
	fmt.Printf("Created %s (%s)\n", u.Username, u.ID)
}

func cmdToken(ctx context.Context, g globals, username string) {
	if err := g.cfg.Validate(); err != nil {
		fail(err)
	}
	db := openStore(g)
	defer func() { _ = db.Close() }()

	u := mustFindUser(ctx, db, username)
	token, err := auth.New(g.cfg.JWTSecret, g.cfg.TokenTTL.Duration, db).Issue(u.ID)
	if err != nil {
		fail(err)
	}
	if g.jsonOut {
		outputJSON(map[string]string{"userId": u.ID, "token": token})
		return
	}
	fmt.Println(token)
}

func cmdFriendSet(ctx context.Context, g globals, a, b string, state store.FriendshipState) {
	db := openStore(g)
	defer func() { _ = db.Close() }()

	ua, ub := mustFindUser(ctx, db, a), mustFindUser(ctx, db, b)
	if err := db.SetFriendship(ctx, ua.ID, ub.ID, state); err != nil {
		fail(err)
	}
	fmt.Printf("%s <-> %s: %s\n", ua.Username, ub.Username, state)
}

func cmdHistory(ctx context.Context, g globals, a, b string) {
	db := openStore(g)
	defer func() { _ = db.Close() }()

	ua, ub := mustFindUser(ctx, db, a), mustFindUser(ctx, db, b)
	msgs, err := db.FindMessagesBetween(ctx, ua.ID, ub.ID, store.Page{Limit: 200, Order: store.OldestFirst})
	if err != nil {
		fail(err)
	}
	if g.jsonOut {
		outputJSON(msgs)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range msgs {
		fmt.Printf("%s  %-12s %-9s %s\n", m.CreatedAt.Format(time.DateTime), m.SenderName, m.Status, m.Content)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
