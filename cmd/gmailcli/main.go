package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

var version = "dev"

type CLI struct {
	Config  string `help:"Config directory path" default:"~/.config/gmailcli" type:"path"`
	JSON    bool   `help:"JSON output format"`
	Verbose bool   `help:"Verbose logging"`
	NoColor bool   `help:"Disable colored output"`

	Configure struct{} `cmd:"" help:"Configure OAuth authentication"`
	Version   struct{} `cmd:"" help:"Show version"`
	Profile   struct{} `cmd:"" help:"Show mailbox profile"`

	Messages struct {
		List struct {
			Query       string `help:"Gmail search query"`
			MaxResults  int    `help:"Max messages" name:"max-results" default:"25"`
			IncludeBody bool   `help:"Fetch message bodies" name:"include-body"`
		} `cmd:"" help:"List messages"`

		Get struct {
			MessageID   string `arg:"" required:"" help:"Message ID"`
			Format      string `help:"Fidelity level" enum:"minimal,metadata,full,raw" default:"full"`
			PreferPlain bool   `help:"Prefer plain text body over HTML" name:"prefer-plain"`
		} `cmd:"" help:"Read message"`

		Send struct {
			To       []string `required:"" help:"Recipients"`
			Subject  string   `required:"" help:"Subject line"`
			Body     string   `help:"Message body (or read from stdin)"`
			HTMLBody string   `help:"HTML message body" name:"html-body"`
			Cc       []string `help:"CC recipients"`
			Bcc      []string `help:"BCC recipients"`
			Attach   []string `help:"File attachments" type:"existingfile"`
			ThreadID string   `help:"Attach to thread" name:"thread-id"`
		} `cmd:"" help:"Send email"`

		Reply struct {
			MessageID string `arg:"" required:"" help:"Message ID to reply to"`
			Body      string `help:"Reply body (or read from stdin)"`
			HTMLBody  string `help:"HTML reply body" name:"html-body"`
		} `cmd:"" help:"Reply to a message in its thread"`

		Forward struct {
			MessageID string   `arg:"" required:"" help:"Message ID to forward"`
			To        []string `required:"" help:"Recipients"`
			Note      string   `help:"Note prepended above the forwarded text"`
		} `cmd:"" help:"Forward a message"`

		Trash struct {
			MessageID string `arg:"" optional:"" help:"Message ID"`
			Stdin     bool   `help:"Read IDs from stdin"`
		} `cmd:"" help:"Move messages to trash"`

		Untrash struct {
			MessageID string `arg:"" optional:"" help:"Message ID"`
			Stdin     bool   `help:"Read IDs from stdin"`
		} `cmd:"" help:"Restore messages from trash"`

		Delete struct {
			MessageID string `arg:"" optional:"" help:"Message ID"`
			Stdin     bool   `help:"Read IDs from stdin"`
			Force     bool   `help:"Confirm permanent deletion"`
		} `cmd:"" help:"Permanently delete messages"`
	} `cmd:"" help:"Message operations"`
}

func main() {
	// Local .env files may carry GMAIL_CREDENTIALS_FILE / GMAIL_TOKEN_FILE.
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("gmailcli"),
		kong.Description("Command-line Gmail connector"),
		kong.UsageOnError(),
	)

	if cli.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	out := newOutputWriter(cli.JSON, cli.NoColor, cli.Verbose)

	switch ctx.Command() {
	case "configure":
		if err := runConfigure(cli.Config); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}

	case "version":
		fmt.Printf("gmailcli %s\n", version)

	case "profile":
		cmdCtx := context.Background()
		conn, err := getConnection(cli.Config)
		if err != nil {
			out.writeError(err)
			os.Exit(3)
		}

		if err := runProfile(cmdCtx, conn, out); err != nil {
			out.writeError(err)
			os.Exit(2)
		}

	case "messages list":
		cmdCtx := context.Background()
		conn, err := getConnection(cli.Config)
		if err != nil {
			out.writeError(err)
			os.Exit(3)
		}

		if err := runMessagesList(cmdCtx, conn, cli.Messages.List.Query, cli.Messages.List.MaxResults, cli.Messages.List.IncludeBody, out); err != nil {
			out.writeError(err)
			os.Exit(2)
		}

	case "messages get <message-id>":
		cmdCtx := context.Background()
		conn, err := getConnection(cli.Config)
		if err != nil {
			out.writeError(err)
			os.Exit(3)
		}

		if err := runMessagesGet(cmdCtx, conn, cli.Messages.Get.MessageID, cli.Messages.Get.Format, cli.Messages.Get.PreferPlain, out); err != nil {
			out.writeError(err)
			os.Exit(2)
		}

	case "messages send":
		cmdCtx := context.Background()
		conn, err := getConnection(cli.Config)
		if err != nil {
			out.writeError(err)
			os.Exit(3)
		}

		if err := runMessagesSend(cmdCtx, conn, cli.Messages.Send.To, cli.Messages.Send.Cc, cli.Messages.Send.Bcc,
			cli.Messages.Send.Subject, cli.Messages.Send.Body, cli.Messages.Send.HTMLBody,
			cli.Messages.Send.Attach, cli.Messages.Send.ThreadID, out); err != nil {
			out.writeError(err)
			os.Exit(2)
		}

	case "messages reply <message-id>":
		cmdCtx := context.Background()
		conn, err := getConnection(cli.Config)
		if err != nil {
			out.writeError(err)
			os.Exit(3)
		}

		if err := runMessagesReply(cmdCtx, conn, cli.Messages.Reply.MessageID, cli.Messages.Reply.Body, cli.Messages.Reply.HTMLBody, out); err != nil {
			out.writeError(err)
			os.Exit(2)
		}

	case "messages forward <message-id>":
		cmdCtx := context.Background()
		conn, err := getConnection(cli.Config)
		if err != nil {
			out.writeError(err)
			os.Exit(3)
		}

		if err := runMessagesForward(cmdCtx, conn, cli.Messages.Forward.MessageID, cli.Messages.Forward.To, cli.Messages.Forward.Note, out); err != nil {
			out.writeError(err)
			os.Exit(2)
		}

	case "messages trash", "messages trash <message-id>":
		cmdCtx := context.Background()
		conn, err := getConnection(cli.Config)
		if err != nil {
			out.writeError(err)
			os.Exit(3)
		}

		if err := runMessagesTrash(cmdCtx, conn, cli.Messages.Trash.MessageID, cli.Messages.Trash.Stdin, out); err != nil {
			out.writeError(err)
			os.Exit(2)
		}

	case "messages untrash", "messages untrash <message-id>":
		cmdCtx := context.Background()
		conn, err := getConnection(cli.Config)
		if err != nil {
			out.writeError(err)
			os.Exit(3)
		}

		if err := runMessagesUntrash(cmdCtx, conn, cli.Messages.Untrash.MessageID, cli.Messages.Untrash.Stdin, out); err != nil {
			out.writeError(err)
			os.Exit(2)
		}

	case "messages delete", "messages delete <message-id>":
		cmdCtx := context.Background()
		conn, err := getConnection(cli.Config)
		if err != nil {
			out.writeError(err)
			os.Exit(3)
		}

		if err := runMessagesDelete(cmdCtx, conn, cli.Messages.Delete.MessageID, cli.Messages.Delete.Stdin, cli.Messages.Delete.Force, out); err != nil {
			out.writeError(err)
			os.Exit(2)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", ctx.Command())
		os.Exit(1)
	}
}
