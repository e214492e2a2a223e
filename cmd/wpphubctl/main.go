package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/wpphub/internal/api"
	"github.com/matheus3301/wpphub/internal/apperr"
	"github.com/matheus3301/wpphub/internal/config"
	"github.com/matheus3301/wpphub/internal/lock"
	"github.com/matheus3301/wpphub/internal/session"
)

const defaultTimeout = 30 * time.Second

func main() {
	dataDirFlag := flag.String("data-dir", "", "data directory (default ~/.wpphub)")
	socketFlag := flag.String("socket", "", "control socket path (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath, pairingTimeout, err := resolveSocket(*dataDirFlag, *socketFlag)
	if err != nil {
		fail(err)
	}
	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon at %s: %v\n", socketPath, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	out := printer{json: *jsonFlag}
	cmd, rest := args[0], args[1:]

	if cmd == "watch" {
		cmdWatch(c, rest, out)
		return
	}

	timeout := defaultTimeout
	if cmd == "pair" {
		timeout = pairingTimeout + 10*time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch cmd {
	case "status":
		cmdStatus(ctx, c, need(rest, 1, "status <session>"), out)
	case "list":
		cmdList(ctx, c, out)
	case "pair":
		cmdPair(ctx, c, rest, out)
	case "code":
		resp, err := c.PairingCode(ctx, need(rest, 1, "code <session>")[0])
		check(err)
		printPairing(resp, out)
	case "chats":
		resp, err := c.ListConversations(ctx, need(rest, 1, "chats <session>")[0])
		check(err)
		out.emit(resp, func() {
			for _, conv := range resp.Conversations {
				fmt.Printf("%-40s %-24s unread=%d\n", conv.ID, conv.DisplayName(), conv.UnreadCount)
			}
		})
	case "contacts":
		resp, err := c.ListContacts(ctx, need(rest, 1, "contacts <session>")[0])
		check(err)
		out.emit(resp, func() {
			for _, ct := range resp.Contacts {
				fmt.Printf("%-40s %s\n", ct.ID, ct.DisplayName())
			}
		})
	case "messages":
		cmdMessages(ctx, c, need(rest, 2, "messages <session> <conversation> [limit]"), out)
	case "send":
		cmdSend(ctx, c, rest, out)
	case "deliveries":
		resp, err := c.ListDeliveries(ctx, &api.ListDeliveriesRequest{SessionID: need(rest, 1, "deliveries <session>")[0]})
		check(err)
		out.emit(resp, func() {
			for _, d := range resp.Deliveries {
				fmt.Printf("%s  %-7s %-32s %s %s\n", d.CreatedAt.Format(time.RFC3339), d.Status, d.Recipient, d.ServerMsgID, d.Error)
			}
		})
	case "webhook-log":
		resp, err := c.GetWebhookLog(ctx)
		check(err)
		out.emit(resp, func() {
			for _, e := range resp.Entries {
				result := strconv.Itoa(e.Status)
				if e.Error != "" {
					result = e.Error
				}
				fmt.Printf("%s  %-5v %-12s %s %s\n", e.Timestamp.Format(time.RFC3339), e.Success, e.Payload.SessionID, e.URL, result)
			}
		})
	case "account":
		cmdAccount(ctx, c, rest, out)
	case "accounts":
		resp, err := c.ListAccounts(ctx)
		check(err)
		out.emit(resp, func() {
			for _, a := range resp.Accounts {
				fmt.Printf("%-24s %-12s %-16s webhook=%v %s\n", a.SessionID, a.Status, a.PhoneNumber, a.APIEnabled, a.WebhookURL)
			}
		})
	case "notifier":
		cmdNotifier(ctx, c, rest, out)
	case "remove":
		resp, err := c.RemoveSession(ctx, need(rest, 1, "remove <session>")[0])
		check(err)
		out.ack(resp)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wpphubctl [--data-dir <dir>] [--socket <path>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  list                                 List sessions held by the daemon")
	fmt.Fprintln(os.Stderr, "  status <session>                     Show session status")
	fmt.Fprintln(os.Stderr, "  pair [--png file] <session>          Request a pairing code and print it as a QR")
	fmt.Fprintln(os.Stderr, "  code <session>                       Show the latest pairing code")
	fmt.Fprintln(os.Stderr, "  chats <session>                      List cached conversations")
	fmt.Fprintln(os.Stderr, "  contacts <session>                   List cached contacts")
	fmt.Fprintln(os.Stderr, "  messages <session> <chat> [limit]    Show cached messages")
	fmt.Fprintln(os.Stderr, "  send [flags] <session> <to> [text]   Send a text or media message")
	fmt.Fprintln(os.Stderr, "  deliveries <session>                 Show recent sends")
	fmt.Fprintln(os.Stderr, "  webhook-log                          Show recent webhook deliveries")
	fmt.Fprintln(os.Stderr, "  account [flags] <session>            Create or update an account")
	fmt.Fprintln(os.Stderr, "  accounts                             List accounts")
	fmt.Fprintln(os.Stderr, "  notifier [flags] <session>           Change webhook settings")
	fmt.Fprintln(os.Stderr, "  remove <session>                     Log out and forget a session")
	fmt.Fprintln(os.Stderr, "  watch [--ns prefix] [session]        Stream hub events")
}

// resolveSocket reads the config the daemon would read to find its socket.
func resolveSocket(dataDir, socket string) (string, time.Duration, error) {
	dir := dataDir
	if dir == "" {
		dir = session.BaseDir()
	}
	cfg, err := config.LoadOrDefault(session.ConfigPath(dir))
	if err != nil {
		return "", 0, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	switch {
	case socket != "":
	case runningSocket(cfg.DataDir) != "":
		socket = runningSocket(cfg.DataDir)
	case cfg.Control.Socket != "":
		socket = cfg.Control.Socket
	default:
		socket = session.SocketPath(cfg.DataDir)
	}
	return socket, cfg.Pairing.Timeout, nil
}

// runningSocket is the socket recorded by the daemon currently holding the
// data dir lock, which wins over config when the daemon was started with --socket.
func runningSocket(dataDir string) string {
	h, err := lock.Inspect(dataDir)
	if err != nil {
		return ""
	}
	return h.SocketPath
}

func cmdStatus(ctx context.Context, c *api.Client, args []string, out printer) {
	resp, err := c.GetStatus(ctx, args[0])
	check(err)
	out.emit(resp, func() {
		if !resp.Found {
			fmt.Printf("Session: %s\n", args[0])
			fmt.Printf("Status:  %s (%s)\n", resp.Status.State, resp.Message)
			return
		}
		st := resp.Status
		fmt.Printf("Session: %s\n", st.SessionID)
		fmt.Printf("Status:  %s\n", st.State)
		if st.Phone != "" {
			fmt.Printf("Phone:   %s\n", st.Phone)
		}
		if st.LastError != "" {
			fmt.Printf("Error:   %s\n", st.LastError)
		}
		fmt.Printf("Retries: %d\n", st.RetryCount)
		fmt.Printf("Webhook: %v\n", st.NotifierEnabled)
	})
}

func cmdList(ctx context.Context, c *api.Client, out printer) {
	resp, err := c.ListSessions(ctx)
	check(err)
	out.emit(resp, func() {
		if len(resp.Sessions) == 0 {
			fmt.Println("No sessions loaded.")
			return
		}
		for _, s := range resp.Sessions {
			fmt.Printf("%-24s %-12s %s\n", s.SessionID, s.State, s.Phone)
		}
	})
}

func cmdPair(ctx context.Context, c *api.Client, args []string, out printer) {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	pngPath := fs.String("png", "", "also write the QR code to this PNG file")
	_ = fs.Parse(args)
	id := need(fs.Args(), 1, "pair [--png file] <session>")[0]

	resp, err := c.RequestPairing(ctx, id)
	check(err)
	if *pngPath != "" {
		check(writePNG(*pngPath, resp.Code))
	}
	printPairing(resp, out)
}

func printPairing(resp *api.PairingResponse, out printer) {
	out.emit(resp, func() {
		art, err := terminalQR(resp.Code)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: render QR: %v\n", err)
		} else {
			fmt.Print(art)
		}
		fmt.Println("Scan with WhatsApp > Linked devices. Codes rotate; run `code` for the latest.")
	})
}

func cmdMessages(ctx context.Context, c *api.Client, args []string, out printer) {
	req := &api.LoadMessagesRequest{SessionID: args[0], ConversationID: args[1]}
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			fail(fmt.Errorf("invalid limit %q", args[2]))
		}
		req.Limit = n
	}
	resp, err := c.LoadMessages(ctx, req)
	check(err)
	out.emit(resp, func() {
		for _, m := range resp.Messages {
			who := m.PushName
			if m.FromMe() {
				who = "me"
			}
			fmt.Printf("%s  %-16s %s\n", m.Timestamp.Format("2006-01-02 15:04"), who, m.Body)
		}
	})
}

func cmdSend(ctx context.Context, c *api.Client, args []string, out printer) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	kind := fs.String("recipient", "", "recipient kind: individual or group (default: infer)")
	mediaKind := fs.String("media", "", "attachment kind: image, video, audio or document")
	mediaURL := fs.String("url", "", "attachment URL")
	mediaFile := fs.String("file", "", "attachment file to upload")
	caption := fs.String("caption", "", "attachment caption")
	mime := fs.String("mime", "", "attachment MIME type")
	fileName := fs.String("name", "", "document file name")
	ptt := fs.Bool("ptt", false, "send audio as a voice note")
	_ = fs.Parse(args)
	rest := need(fs.Args(), 2, "send [flags] <session> <to> [text]")

	req := &api.SendRequest{
		SessionID:     rest[0],
		To:            rest[1],
		RecipientKind: *kind,
		Body:          strings.Join(rest[2:], " "),
	}
	if *mediaKind != "" {
		a := &api.AttachmentSpec{
			Kind:     *mediaKind,
			URL:      *mediaURL,
			Caption:  *caption,
			MimeType: *mime,
			FileName: *fileName,
			PTT:      *ptt,
		}
		if *mediaFile != "" {
			data, err := os.ReadFile(*mediaFile)
			check(err)
			a.Data = data
		}
		req.Attachment = a
	}

	resp, err := c.Send(ctx, req)
	check(err)
	out.emit(resp, func() {
		fmt.Printf("Sent to %s (message %s, delivery %s)\n", resp.To, resp.MessageID, resp.DeliveryID)
	})
}

func cmdAccount(ctx context.Context, c *api.Client, args []string, out printer) {
	fs := flag.NewFlagSet("account", flag.ExitOnError)
	name := fs.String("name", "", "display name")
	desc := fs.String("description", "", "description")
	webhookURL := fs.String("webhook", "", "webhook URL")
	token := fs.String("token", "", "bearer token sent to the webhook")
	enabled := fs.Bool("enabled", false, "enable webhook delivery")
	_ = fs.Parse(args)
	id := need(fs.Args(), 1, "account [flags] <session>")[0]

	resp, err := c.UpsertAccount(ctx, &api.AccountRequest{
		SessionID:   id,
		Name:        *name,
		Description: *desc,
		WebhookURL:  *webhookURL,
		APIToken:    *token,
		APIEnabled:  *enabled,
	})
	check(err)
	out.ack(resp)
}

func cmdNotifier(ctx context.Context, c *api.Client, args []string, out printer) {
	fs := flag.NewFlagSet("notifier", flag.ExitOnError)
	webhookURL := fs.String("webhook", "", "webhook URL")
	token := fs.String("token", "", "bearer token")
	enabled := fs.String("enabled", "", "true or false")
	_ = fs.Parse(args)
	id := need(fs.Args(), 1, "notifier [--webhook url] [--token t] [--enabled bool] <session>")[0]

	req := &api.NotifierConfigRequest{SessionID: id}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "webhook":
			req.URL = webhookURL
		case "token":
			req.Token = token
		case "enabled":
			v, err := strconv.ParseBool(*enabled)
			if err != nil {
				fail(fmt.Errorf("invalid --enabled %q", *enabled))
			}
			req.Enabled = &v
		}
	})
	resp, err := c.UpdateNotifierConfig(ctx, req)
	check(err)
	out.ack(resp)
}

func cmdWatch(c *api.Client, args []string, out printer) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	ns := fs.String("ns", "", "event kind prefix, e.g. session. or message.")
	_ = fs.Parse(args)
	req := &api.WatchRequest{Namespace: *ns}
	if fs.NArg() > 0 {
		req.SessionID = fs.Arg(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := c.Watch(ctx, req, func(e *api.EventEnvelope) error {
		out.emit(e, func() {
			fmt.Printf("%s  %-24s %-16s %s\n", e.Timestamp.Format(time.RFC3339), e.Kind, e.SessionID, e.Payload)
		})
		return nil
	})
	check(err)
}

// need exits with usage when args has fewer than n entries.
func need(args []string, n int, usage string) []string {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: wpphubctl %s\n", usage)
		os.Exit(1)
	}
	return args
}

func check(err error) {
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if apperr.IsRetryable(err) {
		fmt.Fprintln(os.Stderr, "(retryable)")
	}
	os.Exit(1)
}

type printer struct {
	json bool
}

func (p printer) emit(v any, text func()) {
	if p.json {
		outputJSON(v)
		return
	}
	text()
}

func (p printer) ack(resp *api.Ack) {
	p.emit(resp, func() {
		fmt.Printf("Success: %v - %s\n", resp.Success, resp.Message)
	})
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
