package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/overstory/overstory/internal/mail"
	"github.com/overstory/overstory/internal/session"
)

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Send and read agent mail",
}

var mailSendFlags struct {
	from     string
	to       string
	subject  string
	body     string
	msgType  string
	priority string
	thread   string
}

var mailSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a message",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		mailbox, err := a.openMail()
		if err != nil {
			return err
		}
		defer mailbox.Close()

		msg := &mail.Message{
			From:     mailSendFlags.from,
			To:       mailSendFlags.to,
			Subject:  mailSendFlags.subject,
			Body:     mailSendFlags.body,
			Type:     mail.Type(mailSendFlags.msgType),
			Priority: mail.Priority(mailSendFlags.priority),
			ThreadID: mailSendFlags.thread,
		}
		if err := mailbox.Send(cmd.Context(), msg); err != nil {
			return err
		}
		info("sent %s", msg.ID)
		return emit("mail send", msg, nil)
	},
}

var mailListFlags struct {
	to     string
	from   string
	unread bool
	thread string
	limit  int
}

var mailListCmd = &cobra.Command{
	Use:   "list",
	Short: "List messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		mailbox, err := a.openMail()
		if err != nil {
			return err
		}
		defer mailbox.Close()

		list, err := mailbox.GetAll(cmd.Context(), mail.Filter{
			To:       mailListFlags.to,
			From:     mailListFlags.from,
			Unread:   mailListFlags.unread,
			ThreadID: mailListFlags.thread,
			Limit:    mailListFlags.limit,
		})
		if err != nil {
			return err
		}
		return emit("mail list", list, func() { renderMail(list) })
	},
}

var mailCheckFlags struct {
	agent string
}

var mailCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Drain unread mail for an agent (marks it read)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		mailbox, err := a.openMail()
		if err != nil {
			return err
		}
		defer mailbox.Close()

		list, err := mailbox.Check(cmd.Context(), mailCheckFlags.agent)
		if err != nil {
			return err
		}
		return emit("mail check", list, func() {
			if len(list) == 0 {
				fmt.Println("no new mail")
				return
			}
			for _, m := range list {
				fmt.Printf("--- from %s [%s/%s] %s\n%s\n", m.From, m.Type, m.Priority, m.Subject, m.Body)
			}
		})
	},
}

var mailReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Read one message and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		mailbox, err := a.openMail()
		if err != nil {
			return err
		}
		defer mailbox.Close()

		msg, err := mailbox.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := mailbox.MarkRead(cmd.Context(), msg.ID); err != nil {
			return err
		}
		return emit("mail read", msg, func() {
			fmt.Printf("from: %s\nto: %s\nsubject: %s\n\n%s\n", msg.From, msg.To, msg.Subject, msg.Body)
		})
	},
}

func renderMail(list []*mail.Message) {
	if len(list) == 0 {
		fmt.Println("no mail")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFROM\tTO\tTYPE\tREAD\tSUBJECT")
	for _, m := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n", m.ID, m.From, m.To, m.Type, m.Read, m.Subject)
	}
	_ = w.Flush()
}

func init() {
	f := mailSendCmd.Flags()
	f.StringVar(&mailSendFlags.from, "from", session.OrchestratorName, "sender agent name")
	f.StringVar(&mailSendFlags.to, "to", "", "recipient agent name (required)")
	f.StringVar(&mailSendFlags.subject, "subject", "", "subject line")
	f.StringVar(&mailSendFlags.body, "body", "", "message body")
	f.StringVar(&mailSendFlags.msgType, "type", "", "message type (status, question, result, worker_done, error, custom)")
	f.StringVar(&mailSendFlags.priority, "priority", "", "priority (low, normal, high, urgent)")
	f.StringVar(&mailSendFlags.thread, "thread", "", "thread id to continue")
	_ = mailSendCmd.MarkFlagRequired("to")

	lf := mailListCmd.Flags()
	lf.StringVar(&mailListFlags.to, "to", "", "filter by recipient")
	lf.StringVar(&mailListFlags.from, "from", "", "filter by sender")
	lf.BoolVar(&mailListFlags.unread, "unread", false, "unread only")
	lf.StringVar(&mailListFlags.thread, "thread", "", "filter by thread")
	lf.IntVar(&mailListFlags.limit, "limit", 0, "limit results")

	mailCheckCmd.Flags().StringVar(&mailCheckFlags.agent, "agent", "", "agent to check mail for (required)")
	_ = mailCheckCmd.MarkFlagRequired("agent")

	mailCmd.AddCommand(mailSendCmd, mailListCmd, mailCheckCmd, mailReadCmd)
	rootCmd.AddCommand(mailCmd)
}
