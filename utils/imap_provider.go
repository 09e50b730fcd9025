package utils

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"leadflow/models"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"
	"gopkg.in/gomail.v2"
)

// IMAPProvider implements MailProvider against a user's mailbox over
// IMAP (fetch) and SMTP (send).
type IMAPProvider struct {
	Mailbox *models.Mailbox
	Tokens  *TokenCache // nil for password auth
}

// NewIMAPProvider creates a provider for the given mailbox settings.
// Mailboxes carrying OAuth credentials get a token cache over the
// provider's refresh flow; everything else logs in with the password.
func NewIMAPProvider(mailbox *models.Mailbox) *IMAPProvider {
	p := &IMAPProvider{Mailbox: mailbox}
	if mailbox.UsesOAuth() {
		cfg := &oauth2.Config{
			ClientID:     mailbox.OAuthClientID,
			ClientSecret: mailbox.OAuthClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: mailbox.OAuthTokenURL},
		}
		source := cfg.TokenSource(context.Background(), &oauth2.Token{
			RefreshToken: mailbox.OAuthRefreshToken,
		})
		p.Tokens = NewTokenCache(source, 2*time.Minute)
	}
	return p
}

// FetchMessages returns up to opts.Limit of the most recent messages in
// the given folder, newest first.
func (p *IMAPProvider) FetchMessages(folder string, opts FetchOptions) ([]RawMessage, error) {
	imapClient, err := p.dial()
	if err != nil {
		return nil, err
	}
	defer imapClient.Logout()

	if err := p.authenticate(imapClient); err != nil {
		return nil, err
	}

	mailboxName := "INBOX"
	if folder == FolderSent {
		mailboxName = p.Mailbox.IMAPSentFolder
		if mailboxName == "" {
			mailboxName = "Sent"
		}
	}

	status, err := imapClient.Select(mailboxName, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %v", mailboxName, err)
	}

	if status.Messages == 0 {
		return nil, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	// Sequence numbers grow with recency; take the top of the range,
	// shifted down by the offset.
	to := int(status.Messages) - opts.Offset
	if to < 1 {
		return nil, nil
	}
	from := to - limit + 1
	if from < 1 {
		from = 1
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(uint32(from), uint32(to))

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{
			imap.FetchEnvelope,
			imap.FetchFlags,
			imap.FetchItem("BODY.PEEK[]"),
		}, messages)
	}()

	var raws []RawMessage
	for msg := range messages {
		raw, err := p.buildRawMessage(msg)
		if err != nil {
			LogError("imap_parse_failed", err, map[string]interface{}{
				"mailbox": mailboxName,
				"seq_num": msg.SeqNum,
			})
			continue
		}
		raws = append(raws, raw)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("error during fetch: %v", err)
	}

	// Newest first
	for i, j := 0, len(raws)-1; i < j; i, j = i+1, j-1 {
		raws[i], raws[j] = raws[j], raws[i]
	}
	return raws, nil
}

// authenticate logs the client in, using a cached bearer token when
// the mailbox is OAuth-backed.
func (p *IMAPProvider) authenticate(imapClient *client.Client) error {
	if p.Tokens != nil {
		token, err := p.Tokens.AccessToken()
		if err != nil {
			return fmt.Errorf("failed to obtain access token: %v", err)
		}
		if err := imapClient.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: p.Mailbox.IMAPUsername,
			Token:    token,
			Host:     p.Mailbox.IMAPHost,
			Port:     p.Mailbox.IMAPPort,
		})); err != nil {
			return fmt.Errorf("failed to authenticate with IMAP server: %v", err)
		}
		return nil
	}
	if err := imapClient.Login(p.Mailbox.IMAPUsername, p.Mailbox.IMAPPassword); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %v", err)
	}
	return nil
}

func (p *IMAPProvider) dial() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", p.Mailbox.IMAPHost, p.Mailbox.IMAPPort)

	var imapClient *client.Client
	var err error
	switch strings.ToUpper(p.Mailbox.IMAPEncryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(addr, &tls.Config{
			InsecureSkipVerify: false,
			ServerName:         p.Mailbox.IMAPHost,
		})
	case "STARTTLS":
		imapClient, err = client.Dial(addr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{
				InsecureSkipVerify: false,
				ServerName:         p.Mailbox.IMAPHost,
			})
		}
	default:
		imapClient, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %v", err)
	}
	return imapClient, nil
}

func (p *IMAPProvider) buildRawMessage(msg *imap.Message) (RawMessage, error) {
	raw := RawMessage{
		ProviderMessageID: msg.Envelope.MessageId,
		Subject:           msg.Envelope.Subject,
		OccurredAt:        msg.Envelope.Date,
		From:              firstAddress(msg.Envelope.From),
		To:                allAddresses(msg.Envelope.To),
	}

	for _, flag := range msg.Flags {
		if flag == imap.SeenFlag {
			raw.IsRead = true
		}
	}

	var references string
	if msg.Body != nil {
		section := &imap.BodySectionName{Peek: true}
		if literal := msg.GetBody(section); literal != nil {
			mr, err := mail.CreateReader(literal)
			if err != nil {
				return raw, fmt.Errorf("failed to create message reader: %v", err)
			}
			references = mr.Header.Get("References")

			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					break
				} else if err != nil {
					return raw, fmt.Errorf("failed to read next part: %v", err)
				}

				switch h := part.Header.(type) {
				case *mail.InlineHeader:
					contentType, _, _ := h.ContentType()
					b, err := io.ReadAll(part.Body)
					if err != nil {
						return raw, fmt.Errorf("failed to read body: %v", err)
					}
					switch {
					case strings.Contains(contentType, "text/html"):
						if raw.Body.Content == "" {
							raw.Body = RawBody{ContentType: "text/html", Content: string(b)}
						}
					case strings.Contains(contentType, "text/plain"):
						raw.Body = RawBody{ContentType: "text/plain", Content: string(b)}
						raw.BodyPreview = preview(string(b))
					}
				case *mail.AttachmentHeader:
					raw.HasAttachments = true
				}
			}
		}
	}

	raw.ProviderConversationID = conversationID(references, msg.Envelope.InReplyTo, msg.Envelope.MessageId)
	if raw.BodyPreview == "" {
		raw.BodyPreview = preview(raw.Body.Content)
	}
	return raw, nil
}

// conversationID derives a stable conversation key: the root of the
// References chain, falling back to In-Reply-To, then the message's
// own id for conversation starters.
func conversationID(references, inReplyTo, messageID string) string {
	if refs := strings.Fields(references); len(refs) > 0 {
		return strings.Trim(refs[0], "<>")
	}
	if inReplyTo != "" {
		return strings.Trim(inReplyTo, "<>")
	}
	return strings.Trim(messageID, "<>")
}

func preview(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > 160 {
		return body[:160]
	}
	return body
}

func firstAddress(addrs []*imap.Address) RawAddress {
	if len(addrs) == 0 {
		return RawAddress{}
	}
	return RawAddress{
		Address: addrs[0].MailboxName + "@" + addrs[0].HostName,
		Name:    addrs[0].PersonalName,
	}
}

func allAddresses(addrs []*imap.Address) []RawAddress {
	var result []RawAddress
	for _, addr := range addrs {
		result = append(result, RawAddress{
			Address: addr.MailboxName + "@" + addr.HostName,
			Name:    addr.PersonalName,
		})
	}
	return result
}

// SendMessage delivers a message through the mailbox's SMTP server.
func (p *IMAPProvider) SendMessage(msg OutgoingMessage) error {
	m := gomail.NewMessage()
	if p.Mailbox.FromName != "" {
		m.SetHeader("From", m.FormatAddress(p.Mailbox.FromEmail, p.Mailbox.FromName))
	} else {
		m.SetHeader("From", p.Mailbox.FromEmail)
	}
	m.SetHeader("To", msg.To...)
	if len(msg.CC) > 0 {
		m.SetHeader("Cc", msg.CC...)
	}
	if len(msg.BCC) > 0 {
		m.SetHeader("Bcc", msg.BCC...)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)

	d := gomail.NewDialer(
		p.Mailbox.SMTPHost,
		p.Mailbox.SMTPPort,
		p.Mailbox.SMTPUsername,
		p.Mailbox.SMTPPassword,
	)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %v", err)
	}
	return nil
}
