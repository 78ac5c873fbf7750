package notify

import (
	"context"
	"errors"
	"mime"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cgem-lab/strainboard/internal/requests"
)

type captureMailer struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (c *captureMailer) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return c.err
}

func (c *captureMailer) subjects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.msgs {
		out = append(out, m.Subject)
	}
	return out
}

type countingObserver struct {
	mu     sync.Mutex
	ok     int
	failed int
}

func (o *countingObserver) ObserveNotification(_ string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.failed++
		return
	}
	o.ok++
}

func sample() (*requests.Request, *requests.User) {
	rq := &requests.Request{
		ID: "rq-1", StrainLab: "Cate", StrainEntry: "7",
		Organism: "E. coli", Strain: "DH5a", Plasmid: "pUC19 <amp>",
		DeliveryAddress: "Bldg 4", PreferredEmail: "alice@gem-net.net",
		Status: requests.StatusShipped,
	}
	return rq, &requests.User{ID: 1, DisplayName: "Alice"}
}

func TestNotifier_Subjects(t *testing.T) {
	m := &captureMailer{}
	n := New(m, "strains@gem-net.net", WithSync(true))
	rq, alice := sample()
	ctx := context.Background()
	n.NewRequest(ctx, rq, alice, []string{"lab@x.org"})
	n.NewComment(ctx, rq, &requests.Comment{Body: "thanks"}, alice, []string{"lab@x.org"})
	n.NewStatus(ctx, rq, alice, []string{"lab@x.org"})
	n.NewVolunteer(ctx, rq, &requests.User{DisplayName: "Bob"}, []string{"alice@gem-net.net"})
	want := []string{
		"[Strains] New REQUEST from Alice: pUC19 <amp>",
		"[Strains] New COMMENT from Alice on request rq-1",
		"[Strains] New STATUS on request rq-1",
		"[Strains] Your request has been accepted.",
	}
	if diff := cmp.Diff(want, m.subjects()); diff != "" {
		t.Fatalf("subjects (-want +got):\n%s", diff)
	}
	first := m.msgs[0]
	if first.From != "strains@gem-net.net" || !strings.Contains(first.Text, "Strain Cate_7: E. coli / DH5a / pUC19 <amp>") {
		t.Fatalf("unexpected text body %q", first.Text)
	}
	if !strings.Contains(first.HTML, "pUC19 &lt;amp&gt;") {
		t.Fatalf("html body should be escaped: %q", first.HTML)
	}
	if !strings.Contains(m.msgs[1].Text, "thanks") {
		t.Fatalf("comment body missing: %q", m.msgs[1].Text)
	}
}

func TestNotifier_AsyncWaitAndErrors(t *testing.T) {
	m := &captureMailer{err: errors.New("relay down")}
	obs := &countingObserver{}
	n := New(m, "s@x.org", WithObserver(obs), WithBaseURL("https://strains.example.org/"))
	n.now = func() time.Time { return time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC) }
	rq, alice := sample()
	ctx, cancel := context.WithCancel(context.Background())
	n.NewStatus(ctx, rq, alice, []string{"a@x.org"})
	n.NewStatus(ctx, rq, alice, []string{"b@x.org"})
	cancel()
	n.NewStatus(context.Background(), rq, alice, nil)
	n.Wait()
	if len(m.msgs) != 2 || obs.failed != 2 || obs.ok != 0 {
		t.Fatalf("expected two failed sends, got msgs=%d ok=%d failed=%d", len(m.msgs), obs.ok, obs.failed)
	}
	if !strings.Contains(m.msgs[0].Text, "https://strains.example.org/api/v1/requests/rq-1") {
		t.Fatalf("link missing: %q", m.msgs[0].Text)
	}
	if !strings.Contains(m.msgs[0].Text, "at 2024-01-01 10:30.") {
		t.Fatalf("time missing: %q", m.msgs[0].Text)
	}
}

func TestSMTPMailer(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.org", Username: "u", Password: "p"})
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		return nil
	}
	err := m.Send(context.Background(), Message{From: "s@x.org", To: []string{"a@x.org", "b@x.org"}, Subject: "Hi", Text: "plain", HTML: "<p>rich</p>"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "smtp.example.org:587" || gotAuth == nil {
		t.Fatalf("unexpected addr/auth %q %v", gotAddr, gotAuth)
	}
	if diff := cmp.Diff([]string{"a@x.org", "b@x.org"}, gotTo); diff != "" {
		t.Fatalf("to (-want +got):\n%s", diff)
	}
	for _, want := range []string{"Subject: Hi\r\n", "To: a@x.org, b@x.org\r\n", "multipart/alternative", "text/plain; charset=utf-8", "text/html; charset=utf-8", "plain"} {
		if !strings.Contains(gotMsg, want) {
			t.Fatalf("message missing %q:\n%s", want, gotMsg)
		}
	}

	noHost := NewSMTPMailer(SMTPConfig{})
	if err := noHost.Send(context.Background(), Message{To: []string{"a@x.org"}}); err == nil {
		t.Fatal("expected error without host")
	}
	if err := noHost.Send(context.Background(), Message{}); err != nil {
		t.Fatalf("no recipients should be a no-op, got %v", err)
	}
}

func TestEncode_HeadersCannotBeInjected(t *testing.T) {
	date := time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)
	raw, err := Encode(Message{
		From:    "Strain Desk <strains@gem-net.net>",
		To:      []string{"José Núñez <jose@gem-net.net>"},
		Subject: "[Strains] New REQUEST from José: pUC19\r\nBcc: evil@example.com",
		Text:    "plain",
	}, date)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	head, _, ok := strings.Cut(string(raw), "\r\n\r\n")
	if !ok {
		t.Fatalf("no header terminator:\n%s", raw)
	}
	lines := strings.Split(head, "\r\n")
	for _, l := range lines {
		if strings.HasPrefix(strings.ToLower(l), "bcc:") {
			t.Fatalf("injected header line %q in:\n%s", l, head)
		}
	}
	var subject string
	for _, l := range lines {
		if strings.HasPrefix(l, "Subject: ") {
			subject = strings.TrimPrefix(l, "Subject: ")
		}
	}
	if !strings.Contains(subject, "=?utf-8?q?") {
		t.Fatalf("non-ASCII subject should be Q-encoded, got %q", subject)
	}
	decoded, err := new(mime.WordDecoder).DecodeHeader(subject)
	if err != nil {
		t.Fatalf("decode subject: %v", err)
	}
	if decoded != "[Strains] New REQUEST from José: pUC19 Bcc: evil@example.com" {
		t.Fatalf("decoded subject = %q", decoded)
	}
	if !strings.Contains(head, "To: =?utf-8?q?Jos=C3=A9_N=C3=BA=C3=B1ez?= <jose@gem-net.net>\r\n") {
		t.Fatalf("display name should be encoded:\n%s", head)
	}
	if !strings.Contains(head, "From: \"Strain Desk\" <strains@gem-net.net>\r\n") {
		t.Fatalf("unexpected from header:\n%s", head)
	}

	for _, bad := range []Message{
		{From: "s@x.org", To: []string{"a@x.org\r\nBcc: evil@example.com"}},
		{From: "not an address", To: []string{"a@x.org"}},
	} {
		if _, err := Encode(bad, date); err == nil {
			t.Errorf("expected error for from=%q to=%q", bad.From, bad.To)
		}
	}
}

func TestNotifier_SubjectIsSingleLine(t *testing.T) {
	m := &captureMailer{}
	n := New(m, "strains@gem-net.net", WithSync(true))
	rq, alice := sample()
	rq.Plasmid = "pUC19\nBcc: evil@example.com"
	n.NewRequest(context.Background(), rq, alice, []string{"lab@x.org"})
	got := m.subjects()
	if len(got) != 1 || got[0] != "[Strains] New REQUEST from Alice: pUC19 Bcc: evil@example.com" {
		t.Fatalf("unexpected subjects %q", got)
	}
}

func TestLogMailer(t *testing.T) {
	if err := (LogMailer{}).Send(context.Background(), Message{Subject: "x"}); err != nil {
		t.Fatalf("log mailer: %v", err)
	}
}
