package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ultrawork/internal/cli"
	"github.com/zjrosen/ultrawork/internal/mailbox"
	"github.com/zjrosen/ultrawork/internal/tracing"
)

var mailboxCmd = &cobra.Command{
	Use:     "mailbox",
	Aliases: []string{"mail"},
	Short:   "Send and receive worker messages",
}

var (
	mailboxProject string
	mailboxTeam    string
)

var (
	mailboxSendFrom    string
	mailboxSendTo      string
	mailboxSendType    string
	mailboxSendPayload string
)

var mailboxSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Append a message to a recipient's inbox",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixMailbox+"send", func(ctx context.Context, rt *runtime, args []string) error {
		var payload json.RawMessage
		if mailboxSendPayload != "" {
			if json.Valid([]byte(mailboxSendPayload)) {
				payload = json.RawMessage(mailboxSendPayload)
			} else {
				// Plain text rides as a JSON string.
				b, err := json.Marshal(mailboxSendPayload)
				if err != nil {
					return err
				}
				payload = b
			}
		}
		msg, err := rt.mail.Send(ctx, mailboxProject, mailboxTeam, mailbox.SendParams{
			From:    mailboxSendFrom,
			To:      mailboxSendTo,
			Type:    mailbox.Type(mailboxSendType),
			Payload: payload,
		})
		if err != nil {
			return err
		}
		return confirm(rt.printer, msg, "%s message %s queued for %s", msg.Type, msg.ID, msg.To)
	}),
}

var (
	mailboxPollInbox   string
	mailboxPollType    string
	mailboxPollTimeout int
)

var mailboxPollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Take the unread messages of an inbox, waiting when empty",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixMailbox+"poll", func(ctx context.Context, rt *runtime, args []string) error {
		timeout := mailboxPollTimeout
		if timeout == 0 {
			timeout = cfg.Mailbox.PollTimeoutMS
		}
		msgs, err := rt.mail.Poll(ctx, mailboxProject, mailboxTeam, mailboxPollInbox, mailbox.PollParams{
			Timeout: time.Duration(timeout) * time.Millisecond,
			Type:    mailbox.Type(mailboxPollType),
		})
		if err != nil {
			return err
		}
		return renderMessages(rt.printer, msgs)
	}),
}

var (
	mailboxListInbox string
	mailboxListAll   bool
)

var mailboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show an inbox without consuming it",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixMailbox+"list", func(ctx context.Context, rt *runtime, args []string) error {
		msgs, err := rt.mail.List(mailboxProject, mailboxTeam, mailboxListInbox, mailboxListAll)
		if err != nil {
			return err
		}
		return renderMessages(rt.printer, msgs)
	}),
}

var (
	mailboxReadInbox string
	mailboxReadIDs   []string
)

var mailboxReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Mark listed messages as read",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixMailbox+"read", func(ctx context.Context, rt *runtime, args []string) error {
		n, err := rt.mail.MarkRead(ctx, mailboxProject, mailboxTeam, mailboxReadInbox, mailboxReadIDs)
		if err != nil {
			return err
		}
		return confirm(rt.printer, map[string]int{"marked_read": n}, "%d messages marked read", n)
	}),
}

func init() {
	pf := mailboxCmd.PersistentFlags()
	pf.StringVarP(&mailboxProject, "project", "p", "", "project name")
	pf.StringVarP(&mailboxTeam, "team", "t", "", "team name")
	_ = mailboxCmd.MarkPersistentFlagRequired("project")
	_ = mailboxCmd.MarkPersistentFlagRequired("team")

	s := mailboxSendCmd.Flags()
	s.StringVar(&mailboxSendFrom, "from", "", "sender id")
	s.StringVar(&mailboxSendTo, "to", "", "recipient inbox")
	s.StringVar(&mailboxSendType, "type", string(mailbox.TypeText), "message type")
	s.StringVar(&mailboxSendPayload, "payload", "", "JSON payload (plain text is wrapped)")
	_ = mailboxSendCmd.MarkFlagRequired("from")
	_ = mailboxSendCmd.MarkFlagRequired("to")

	po := mailboxPollCmd.Flags()
	po.StringVar(&mailboxPollInbox, "inbox", "", "inbox to poll")
	po.StringVar(&mailboxPollType, "type", "", "only take messages of this type")
	po.IntVar(&mailboxPollTimeout, "timeout", 0, "wait budget in milliseconds")
	_ = mailboxPollCmd.MarkFlagRequired("inbox")

	l := mailboxListCmd.Flags()
	l.StringVar(&mailboxListInbox, "inbox", "", "inbox to list")
	l.BoolVar(&mailboxListAll, "all", false, "include already-read messages")
	_ = mailboxListCmd.MarkFlagRequired("inbox")

	r := mailboxReadCmd.Flags()
	r.StringVar(&mailboxReadInbox, "inbox", "", "inbox holding the messages")
	r.StringSliceVar(&mailboxReadIDs, "ids", nil, "message ids to mark")
	_ = mailboxReadCmd.MarkFlagRequired("inbox")
	_ = mailboxReadCmd.MarkFlagRequired("ids")

	mailboxCmd.AddCommand(mailboxSendCmd, mailboxPollCmd, mailboxListCmd, mailboxReadCmd)
	rootCmd.AddCommand(mailboxCmd)
}

func renderMessages(p *cli.Printer, msgs []mailbox.Message) error {
	return p.Result(msgs, func(w io.Writer) error {
		if len(msgs) == 0 {
			_, err := fmt.Fprintln(w, "no messages")
			return err
		}
		tbl := cli.NewTable("ID", "FROM", "TYPE", "PAYLOAD", "TIME").Limit(3, 44)
		for i := range msgs {
			m := &msgs[i]
			tbl.AddRow(cli.Truncate(m.ID, 8), m.From, string(m.Type), m.PayloadText(), m.Timestamp)
		}
		return tbl.Render(w)
	})
}
