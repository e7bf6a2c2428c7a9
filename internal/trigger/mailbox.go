package trigger

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/xiaot623/agentrun/internal/config"
	"github.com/xiaot623/agentrun/internal/domain"
)

func init() {
	if message.CharsetReader != nil {
		imap.CharsetReader = message.CharsetReader
	}
}

// Mail is one unseen message read from a mailbox.
type Mail struct {
	UID       uint32
	MessageID string
	From      string
	Subject   string
	Body      string
	Date      time.Time
}

// MailFetcher reads unseen messages with a UID above afterUID.
type MailFetcher interface {
	FetchUnseen(ctx context.Context, cfg config.IMAPConfig, username, password string, afterUID uint32) ([]Mail, error)
}

// Mailbox starts a run for each unseen message in an IMAP folder.
type Mailbox struct {
	cfg     config.TriggerConfig
	address string
	fetcher MailFetcher
	logger  *slog.Logger

	mu      sync.Mutex
	lastUID uint32
}

// NewMailbox creates a mailbox trigger. A nil fetcher uses IMAP.
func NewMailbox(cfg config.TriggerConfig, fetcher MailFetcher, logger *slog.Logger) *Mailbox {
	if fetcher == nil {
		fetcher = IMAPFetcher{Timeout: 25 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	address := strings.TrimSpace(cfg.Spec)
	if i := strings.Index(address, ":"); i >= 0 && !strings.Contains(address[:i], "@") {
		address = strings.TrimSpace(address[i+1:])
	}
	return &Mailbox{cfg: cfg, address: address, fetcher: fetcher, logger: logger}
}

func (m *Mailbox) ID() string                   { return m.cfg.ID }
func (m *Mailbox) Config() config.TriggerConfig { return m.cfg }
func (m *Mailbox) NeedsCredential() bool        { return true }

// Matches accepts a credential named after the watched address, the raw
// spec or the trigger id.
func (m *Mailbox) Matches(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return strings.EqualFold(name, m.address) ||
		strings.EqualFold(name, strings.TrimSpace(m.cfg.Spec)) ||
		strings.EqualFold(name, m.cfg.ID)
}

func (m *Mailbox) Poll(ctx context.Context, cred *domain.Credential) ([]Item, error) {
	if cred == nil {
		return nil, fmt.Errorf("%w for trigger %s", domain.ErrNoCredential, m.cfg.ID)
	}
	username := cred.Secrets["username"]
	if username == "" {
		username = m.address
	}
	password := cred.Secrets["password"]
	if password == "" {
		return nil, errors.New("credential has no password")
	}

	m.mu.Lock()
	after := m.lastUID
	m.mu.Unlock()

	mails, err := m.fetcher.FetchUnseen(ctx, m.cfg.IMAP, username, password, after)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	items := make([]Item, 0, len(mails))
	for _, msg := range mails {
		if msg.UID > after {
			after = msg.UID
		}
		if strings.EqualFold(msg.From, m.address) {
			continue
		}
		key := msg.MessageID
		if key == "" {
			key = "uid:" + strconv.FormatUint(uint64(msg.UID), 10)
		}
		items = append(items, Item{ID: newItemID(now), Key: key, Input: formatMail(msg)})
	}

	m.mu.Lock()
	if after > m.lastUID {
		m.lastUID = after
	}
	m.mu.Unlock()
	m.logger.Debug("mailbox polled", "messages", len(mails), "items", len(items))
	return items, nil
}

func formatMail(msg Mail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if !msg.Date.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", msg.Date.UTC().Format(time.RFC1123Z))
	}
	b.WriteString("\n")
	b.WriteString(msg.Body)
	return b.String()
}

// IMAPFetcher reads messages over IMAP. Messages are fetched with
// BODY.PEEK and their flags are left untouched.
type IMAPFetcher struct {
	Timeout time.Duration
}

func (f IMAPFetcher) FetchUnseen(ctx context.Context, cfg config.IMAPConfig, username, password string, afterUID uint32) ([]Mail, error) {
	addr := fmt.Sprintf("%s:%d", strings.TrimSpace(cfg.Server), cfg.Port)
	var (
		c   *client.Client
		err error
	)
	if cfg.UseSSL {
		c, err = client.DialTLS(addr, &tls.Config{ServerName: strings.TrimSpace(cfg.Server)})
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("imap dial failed: %w", err)
	}
	c.Timeout = f.Timeout
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()
	defer func() { _ = c.Logout() }()

	if err := c.Login(username, password); err != nil {
		return nil, fmt.Errorf("imap login failed: %w", err)
	}
	if _, err := c.Select(cfg.Folder, true); err != nil {
		return nil, fmt.Errorf("imap select %s failed: %w", cfg.Folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if afterUID > 0 {
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(afterUID+1, 0)
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search UNSEEN failed: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	msgCh := make(chan *imap.Message, min(16, len(uids)))
	fetchErr := make(chan error, 1)
	go func() {
		fetchErr <- c.UidFetch(seqset, items, msgCh)
	}()

	var out []Mail
	for msg := range msgCh {
		// "n:*" always matches the highest UID, even one we have seen.
		if msg == nil || msg.Uid <= afterUID {
			continue
		}
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		m, err := ParseMail(raw)
		if err != nil {
			m = mailFromEnvelope(msg.Envelope)
		}
		m.UID = msg.Uid
		if m.MessageID == "" && msg.Envelope != nil {
			m.MessageID = canonicalMessageID(msg.Envelope.MessageId)
		}
		out = append(out, m)
	}
	if err := <-fetchErr; err != nil {
		return out, fmt.Errorf("imap fetch failed: %w", err)
	}
	return out, nil
}

// ParseMail reads the headers and the first text part of an RFC 5322
// message.
func ParseMail(raw []byte) (Mail, error) {
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Mail{}, fmt.Errorf("parse mail: %w", err)
	}
	var m Mail
	m.Subject, _ = r.Header.Subject()
	m.Subject = strings.TrimSpace(m.Subject)
	if list, err := r.Header.AddressList("From"); err == nil && len(list) > 0 {
		m.From = strings.TrimSpace(list[0].Address)
	}
	m.MessageID = canonicalMessageID(r.Header.Get("Message-Id"))
	m.Date, _ = r.Header.Date()
	m.Body = textBody(r)
	return m, nil
}

func textBody(r *mail.Reader) string {
	var plain, html string
	for {
		part, err := r.NextPart()
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, _ := io.ReadAll(part.Body)
		text := strings.TrimSpace(string(b))
		if text == "" {
			continue
		}
		switch strings.ToLower(ct) {
		case "text/html":
			if html == "" {
				html = text
			}
		default:
			if plain == "" {
				plain = text
			}
		}
	}
	if plain != "" {
		return plain
	}
	return html
}

func mailFromEnvelope(env *imap.Envelope) Mail {
	var m Mail
	if env == nil {
		return m
	}
	m.Subject = strings.TrimSpace(env.Subject)
	m.Date = env.Date
	m.MessageID = canonicalMessageID(env.MessageId)
	if len(env.From) > 0 && env.From[0] != nil {
		m.From = env.From[0].Address()
	}
	return m
}

func canonicalMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
