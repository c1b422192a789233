package challenge

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/models"
)

// Email is one fetched message
type Email struct {
	UID     uint32
	From    string
	Subject string
	Body    string
	Date    time.Time
}

// Mailbox reads the inbox receiving verification PINs
type Mailbox interface {
	FetchUnread(ctx context.Context, since time.Time) ([]Email, error)
	MarkRead(ctx context.Context, uids ...uint32) error
}

// IMAPMailbox reads an INBOX over IMAP, one connection per call
type IMAPMailbox struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	logger   arbor.ILogger
}

// NewIMAPMailbox creates a mailbox for account; the account's own IMAP login, when
// set, overrides the configured one. Returns nil when no credentials are available.
func NewIMAPMailbox(config common.IMAPConfig, account models.Account, logger arbor.ILogger) *IMAPMailbox {
	username, password := config.Username, config.Password
	if account.IMAPUser != "" {
		username, password = account.IMAPUser, account.IMAPPass
	}
	if config.Host == "" || username == "" || password == "" {
		return nil
	}
	port := config.Port
	if port == 0 {
		port = 993
	}
	return &IMAPMailbox{
		host:     config.Host,
		port:     port,
		username: username,
		password: password,
		useTLS:   config.UseTLS,
		logger:   logger,
	}
}

func (m *IMAPMailbox) connect() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	var c *client.Client
	var err error
	if m.useTLS {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(m.username, m.password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("IMAP login failed: %w", err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}
	return c, nil
}

// FetchUnread returns unseen messages received on or after since (day granularity
// on the server, exact here)
func (m *IMAPMailbox) FetchUnread(ctx context.Context, since time.Time) ([]Email, error) {
	c, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = since

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search for unseen messages: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var emails []Email
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		if msg.Envelope.Date.Before(since) {
			continue
		}
		body, err := parseBody(msg.GetBody(section))
		if err != nil {
			m.logger.Warn().Err(err).Uint32("uid", msg.Uid).Msg("Failed to parse message body")
			continue
		}

		from := ""
		if len(msg.Envelope.From) > 0 {
			from = msg.Envelope.From[0].Address()
		}
		emails = append(emails, Email{
			UID:     msg.Uid,
			From:    from,
			Subject: msg.Envelope.Subject,
			Body:    body,
			Date:    msg.Envelope.Date,
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return emails, nil
}

// MarkRead flags messages as seen
func (m *IMAPMailbox) MarkRead(ctx context.Context, uids ...uint32) error {
	if len(uids) == 0 {
		return nil
	}
	c, err := m.connect()
	if err != nil {
		return err
	}
	defer c.Logout()

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to mark messages as read: %w", err)
	}
	return nil
}

// parseBody prefers the text/plain part and falls back to the text of an HTML part
func parseBody(r imap.Literal) (string, error) {
	if r == nil {
		return "", fmt.Errorf("no body section")
	}
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to create mail reader: %w", err)
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read next part: %w", err)
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read body: %w", err)
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain") && plain == "":
			plain = string(b)
		case strings.HasPrefix(contentType, "text/html") && html == "":
			html = string(b)
		}
	}

	if plain != "" {
		return strings.TrimSpace(plain), nil
	}
	if html != "" {
		return htmlText(html), nil
	}
	return "", nil
}

func htmlText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
