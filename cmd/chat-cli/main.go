package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/chatclient"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/config"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	pkglog "github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
)

const help = `commands:
  <text>               send to everyone
  /w <usn> <text>      send privately
  /history [usn]       load stored global or private history
  /show [usn]          print the global or private conversation
  /who                 list online students
  /typing [usn]        send a typing signal
  /quit`

func main() {
	fs := pflag.NewFlagSet("chat-cli", pflag.ExitOnError)
	config.CLIFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadCLI(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: true, ServiceName: "chat-cli", Output: os.Stderr})
	logger := pkglog.L()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	api := chatclient.NewHistoryClient(cfg.APIURL, cfg.Token, cfg.HTTPTimeout)
	if cfg.Password != "" {
		res, err := api.Login(ctx, cfg.USN, cfg.Password)
		if err != nil {
			logger.Fatal().Err(err).Msg("login failed")
		}
		cfg.Token = res.Token
		if cfg.Name == "" {
			cfg.Name = res.Student.Name
		}
	}
	if cfg.USN == "" || cfg.Name == "" {
		fmt.Fprintln(os.Stderr, "--usn and --name are required (or --password to log in)")
		os.Exit(2)
	}

	ctl := chatclient.New(chatclient.Config{
		GatewayURL:  cfg.GatewayURL,
		Token:       cfg.Token,
		Identity:    cfg.USN,
		DisplayName: cfg.Name,
		TypingTTL:   cfg.TypingTTL,
		HistoryCap:  cfg.HistoryCap,
	}, api)

	printer := &printer{ctl: ctl}
	ctl.OnChange(printer.onChange)

	runErr := make(chan error, 1)
	go func() { runErr <- ctl.Run(ctx) }()

	fmt.Println(help)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case err := <-runErr:
			if errors.Is(err, chatclient.ErrSuperseded) {
				fmt.Println("* signed in elsewhere, closing")
			}
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				cancel()
				<-runErr
				return
			}
			if err := execute(ctx, ctl, line); err != nil {
				fmt.Println("!", err)
			}
		}
	}
}

func execute(ctx context.Context, ctl *chatclient.Controller, line string) error {
	if !strings.HasPrefix(line, "/") {
		return ctl.SendGlobalMessage(line)
	}

	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/w":
		peer, text, ok := strings.Cut(rest, " ")
		if !ok {
			return errors.New("usage: /w <usn> <text>")
		}
		return ctl.SendPrivateMessage(peer, text)
	case "/history":
		if rest == "" {
			return ctl.FetchGlobalMessages(ctx)
		}
		return ctl.FetchPrivateMessages(ctx, rest)
	case "/show":
		if rest == "" {
			printMessages(ctl.GlobalMessages())
		} else {
			printMessages(ctl.PrivateMessages(rest))
		}
		return nil
	case "/who":
		users := ctl.OnlineUsers()
		fmt.Printf("* %d other(s) online\n", len(users))
		for _, u := range users {
			fmt.Printf("  %s  %s\n", u.Identity, u.DisplayName)
		}
		return nil
	case "/typing":
		return ctl.SendTyping(rest)
	default:
		return fmt.Errorf("unknown command %s", cmd)
	}
}

func printMessages(msgs []domain.Message) {
	for _, m := range msgs {
		fmt.Println(formatMessage(m))
	}
}

func formatMessage(m domain.Message) string {
	ts := m.Timestamp.Local().Format("15:04")
	if m.Kind == domain.KindPrivate {
		return fmt.Sprintf("[%s] %s -> %s: %s", ts, m.SenderDisplayName, m.RecipientIdentity, m.Body)
	}
	return fmt.Sprintf("[%s] %s: %s", ts, m.SenderDisplayName, m.Body)
}

// printer echoes the newest state after each change.
type printer struct {
	ctl *chatclient.Controller
}

func (p *printer) onChange(ch chatclient.Change) {
	switch ch.Kind {
	case chatclient.ChangeConnection:
		if p.ctl.Connected() {
			fmt.Println("* connected")
		} else {
			fmt.Println("* disconnected, reconnecting...")
		}
	case chatclient.ChangeGlobal:
		if msgs := p.ctl.GlobalMessages(); len(msgs) > 0 {
			fmt.Println(formatMessage(msgs[len(msgs)-1]))
		}
	case chatclient.ChangePrivate:
		if msgs := p.ctl.PrivateMessages(ch.Peer); len(msgs) > 0 {
			fmt.Println(formatMessage(msgs[len(msgs)-1]))
		}
	case chatclient.ChangeTyping:
		typing := p.ctl.TypingUsers()
		if len(typing) == 0 {
			return
		}
		names := make([]string, len(typing))
		for i, t := range typing {
			names[i] = t.DisplayName
		}
		fmt.Printf("* %s typing...\n", strings.Join(names, ", "))
	}
}
