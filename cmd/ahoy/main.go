// Command ahoy runs one node of the peer-to-peer chat overlay and attaches
// a single user to it over a plain stdin/stdout loop.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/hebbarp/ahoy/pkg/logging"
	"github.com/hebbarp/ahoy/pkg/model"
	"github.com/hebbarp/ahoy/pkg/node"
	"github.com/hebbarp/ahoy/pkg/session"
	"github.com/hebbarp/ahoy/pkg/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ahoy: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   = flag.String("config", "", "YAML config file")
		username     = flag.String("username", "", "username to connect as")
		listenAddr   = flag.String("listen", "", "TCP bind address for peer links")
		advertise    = flag.String("advertise", "", "address peers should dial (defaults to the bound address)")
		secret       = flag.String("secret", "", "cluster shared secret")
		dbPath       = flag.String("db", "", "chat log database path (empty = no persistence)")
		seedAddr     = flag.String("peer", "", "seed peer address to connect to at startup")
		joinList     = flag.String("join", "", "comma-separated channels to join at startup")
		noDiscovery  = flag.Bool("no-discovery", false, "disable announcement-based peer discovery")
		logLevel     = flag.String("log-level", "", "log level: debug, info, warn, error")
		logFormat    = flag.String("log-format", "", "log format: text or json")
		printVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *printVersion {
		fmt.Println(version.String())
		return nil
	}

	cfg := node.DefaultConfig()
	if *configPath != "" {
		loaded, err := node.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	applyFlags(&cfg, *username, *listenAddr, *advertise, *secret, *dbPath, *joinList, *noDiscovery, *logLevel, *logFormat)

	if cfg.Username == "" {
		return fmt.Errorf("a username is required (-username or config file)")
	}
	if err := logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		return err
	}

	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}
	defer n.Close()

	if !cfg.Discovery.Disabled {
		if err := n.StartDiscovery(); err != nil {
			slog.Error("discovery unavailable, running without automatic peering", "err", err)
		}
	}
	if *seedAddr != "" {
		if err := n.Connect(*seedAddr); err != nil {
			slog.Warn("seed peer connect failed", "peer", *seedAddr, "err", err)
		}
	}

	sink := session.SinkFunc(func(msg model.Message) { printMessage(cfg.Username, msg) })
	sess, err := n.OpenSession(cfg.Username, sink)
	if err != nil {
		return err
	}

	fmt.Printf("connected as %s on %s (/help for commands)\n", cfg.Username, n.Self())
	return inputLoop(n, sess, cfg.Username)
}

func applyFlags(cfg *node.Config, username, listen, advertise, secret, db, joins string, noDiscovery bool, level, format string) {
	if username != "" {
		cfg.Username = username
	}
	if listen != "" {
		cfg.ListenAddr = listen
	}
	if advertise != "" {
		cfg.Advertise = advertise
	}
	if secret != "" {
		cfg.Secret = secret
	}
	if db != "" {
		cfg.DBPath = db
	}
	if joins != "" {
		for _, ch := range strings.Split(joins, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				cfg.Autojoin = append(cfg.Autojoin, ch)
			}
		}
	}
	if noDiscovery {
		cfg.Discovery.Disabled = true
	}
	if level != "" {
		cfg.Log.Level = level
	}
	if format != "" {
		cfg.Log.Format = format
	}
}

// inputLoop reads commands until EOF, /quit, or a shutdown signal.
func inputLoop(n *node.Node, sess *session.Session, username string) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			fmt.Println("\nshutting down...")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(n, sess, username, line); quit {
				return nil
			}
		}
	}
}

func handleLine(n *node.Node, sess *session.Session, username, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := sess.SendMessage(line); err != nil {
			fmt.Printf("! %v\n", err)
		}
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit":
		return true
	case "/help":
		fmt.Println("commands: /join <ch>  /leave <ch>  /switch <ch>  /dm <user> <text>  /users  /peers  /history <ch> [n]  /discover  /quit")
	case "/join":
		report(sess.JoinChannel(rest))
	case "/leave":
		report(sess.LeaveChannel(rest))
	case "/switch":
		report(sess.SwitchChannel(rest))
	case "/dm":
		to, body, found := strings.Cut(rest, " ")
		if !found {
			fmt.Println("! usage: /dm <user> <text>")
			return false
		}
		report(sess.SendDirectMessage(to, strings.TrimSpace(body)))
	case "/users":
		for name, u := range n.Users() {
			fmt.Printf("  %s @ %s %v\n", name, u.Node, u.Channels)
		}
	case "/peers":
		for _, p := range n.ConnectedPeers() {
			fmt.Printf("  %s (connected)\n", p)
		}
		for _, info := range n.DiscoveredNodes() {
			fmt.Printf("  %s (discovered, %s)\n", info.Node, info.Version)
		}
	case "/history":
		channel, limitStr, _ := strings.Cut(rest, " ")
		limit := 20
		if v, err := strconv.Atoi(strings.TrimSpace(limitStr)); err == nil && v > 0 {
			limit = v
		}
		msgs, err := n.ChannelHistory(channel, limit)
		if err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		for _, msg := range msgs {
			printMessage(username, msg)
		}
	case "/discover":
		n.ForceDiscovery()
	default:
		fmt.Printf("! unknown command %s\n", cmd)
	}
	return false
}

func report(err error) {
	if err != nil {
		fmt.Printf("! %v\n", err)
	}
}

func printMessage(self string, msg model.Message) {
	ts := msg.Timestamp.Format("15:04:05")
	switch msg.Kind {
	case model.KindChannel:
		fmt.Printf("[%s] %s <%s> %s\n", ts, msg.Channel, msg.From, msg.Body)
	case model.KindDirect:
		if msg.From == self {
			fmt.Printf("[%s] [dm to %s] %s\n", ts, msg.To, msg.Body)
		} else {
			fmt.Printf("[%s] [dm from %s] %s\n", ts, msg.From, msg.Body)
		}
	case model.KindSystem:
		fmt.Printf("[%s] * %s\n", ts, msg.Body)
	case model.KindError:
		fmt.Printf("[%s] ! %s\n", ts, msg.Body)
	}
}
