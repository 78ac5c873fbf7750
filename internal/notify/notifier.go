package notify

import (
	"bytes"
	"context"
	htmltemplate "html/template"
	"strings"
	"sync"
	texttemplate "text/template"
	"time"

	"go.uber.org/zap"

	"github.com/cgem-lab/strainboard/internal/requests"
)

// Observer counts delivery outcomes.
type Observer interface {
	ObserveNotification(kind string, err error)
}

type kind struct {
	name    string
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

func newKind(name, subject, text, html string) kind {
	return kind{
		name:    name,
		subject: texttemplate.Must(texttemplate.New(name + "-subject").Parse(subject)),
		text:    texttemplate.Must(texttemplate.New(name + "-text").Parse(text)),
		html:    htmltemplate.Must(htmltemplate.New(name + "-html").Parse(html)),
	}
}

const strainText = `Strain {{.Request.StrainID}}: {{.Request.Organism}} / {{.Request.Strain}} / {{.Request.Plasmid}}`

var (
	kindRequest = newKind("request",
		`[Strains] New REQUEST from {{.Actor.DisplayName}}: {{.Request.Plasmid}}`,
		`{{.Actor.DisplayName}} requested a strain.

`+strainText+`
Deliver to: {{.Request.DeliveryAddress}}
Contact: {{.Request.PreferredEmail}}
Request: {{.Request.ID}}{{if .Link}}
{{.Link}}{{end}}
`,
		`<p>{{.Actor.DisplayName}} requested a strain.</p>
<ul>
<li>Strain {{.Request.StrainID}}: {{.Request.Organism}} / {{.Request.Strain}} / {{.Request.Plasmid}}</li>
<li>Deliver to: {{.Request.DeliveryAddress}}</li>
<li>Contact: {{.Request.PreferredEmail}}</li>
</ul>
<p>Request {{if .Link}}<a href="{{.Link}}">{{.Request.ID}}</a>{{else}}{{.Request.ID}}{{end}}</p>
`)

	kindComment = newKind("comment",
		`[Strains] New COMMENT from {{.Actor.DisplayName}} on request {{.Request.ID}}`,
		`{{.Actor.DisplayName}} commented at {{.Time}}:

{{.Comment.Body}}

`+strainText+`{{if .Link}}
{{.Link}}{{end}}
`,
		`<p>{{.Actor.DisplayName}} commented at {{.Time}}:</p>
<blockquote>{{.Comment.Body}}</blockquote>
<p>Strain {{.Request.StrainID}}: {{.Request.Organism}} / {{.Request.Strain}} / {{.Request.Plasmid}}</p>
{{if .Link}}<p><a href="{{.Link}}">View request</a></p>{{end}}
`)

	kindStatus = newKind("status",
		`[Strains] New STATUS on request {{.Request.ID}}`,
		`{{.Actor.DisplayName}} set the status to {{.Request.Status}} at {{.Time}}.

`+strainText+`{{if .Link}}
{{.Link}}{{end}}
`,
		`<p>{{.Actor.DisplayName}} set the status to <b>{{.Request.Status}}</b> at {{.Time}}.</p>
<p>Strain {{.Request.StrainID}}: {{.Request.Organism}} / {{.Request.Strain}} / {{.Request.Plasmid}}</p>
{{if .Link}}<p><a href="{{.Link}}">View request</a></p>{{end}}
`)

	kindVolunteer = newKind("volunteer",
		`[Strains] Your request has been accepted.`,
		`{{.Actor.DisplayName}} will ship your request (accepted {{.Time}}).

`+strainText+`{{if .Link}}
{{.Link}}{{end}}
`,
		`<p>{{.Actor.DisplayName}} will ship your request (accepted {{.Time}}).</p>
<p>Strain {{.Request.StrainID}}: {{.Request.Organism}} / {{.Request.Strain}} / {{.Request.Plasmid}}</p>
{{if .Link}}<p><a href="{{.Link}}">View request</a></p>{{end}}
`)
)

type view struct {
	Request *requests.Request
	Actor   *requests.User
	Comment *requests.Comment
	Time    string
	Link    string
}

// Notifier renders workflow events into messages and hands them to a
// Mailer. Sends run in the background unless Sync is set.
type Notifier struct {
	mailer   Mailer
	sender   string
	baseURL  string
	sync     bool
	logger   *zap.Logger
	observer Observer
	now      func() time.Time

	wg sync.WaitGroup
}

var _ requests.Notifier = (*Notifier)(nil)

// Option configures a Notifier.
type Option func(*Notifier)

// WithSync delivers messages before returning.
func WithSync(on bool) Option { return func(n *Notifier) { n.sync = on } }

// WithBaseURL adds request links to messages.
func WithBaseURL(u string) Option { return func(n *Notifier) { n.baseURL = strings.TrimRight(u, "/") } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithObserver sets the delivery metrics observer.
func WithObserver(o Observer) Option { return func(n *Notifier) { n.observer = o } }

// New returns a notifier sending from sender through m.
func New(m Mailer, sender string, opts ...Option) *Notifier {
	n := &Notifier{mailer: m, sender: sender, logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *Notifier) NewRequest(ctx context.Context, rq *requests.Request, requester *requests.User, to []string) {
	n.dispatch(ctx, kindRequest, view{Request: rq, Actor: requester}, to)
}

func (n *Notifier) NewComment(ctx context.Context, rq *requests.Request, c *requests.Comment, commenter *requests.User, to []string) {
	n.dispatch(ctx, kindComment, view{Request: rq, Actor: commenter, Comment: c}, to)
}

func (n *Notifier) NewStatus(ctx context.Context, rq *requests.Request, actor *requests.User, to []string) {
	n.dispatch(ctx, kindStatus, view{Request: rq, Actor: actor}, to)
}

func (n *Notifier) NewVolunteer(ctx context.Context, rq *requests.Request, shipper *requests.User, to []string) {
	n.dispatch(ctx, kindVolunteer, view{Request: rq, Actor: shipper}, to)
}

// Wait blocks until background sends finish.
func (n *Notifier) Wait() { n.wg.Wait() }

// render builds the message for one event without sending it.
func (n *Notifier) render(k kind, v view, to []string) (Message, error) {
	v.Time = n.now().UTC().Format("2006-01-02 15:04")
	if n.baseURL != "" && v.Request != nil {
		v.Link = n.baseURL + "/api/v1/requests/" + v.Request.ID
	}
	var subj, text, html bytes.Buffer
	if err := k.subject.Execute(&subj, v); err != nil {
		return Message{}, err
	}
	if err := k.text.Execute(&text, v); err != nil {
		return Message{}, err
	}
	if err := k.html.Execute(&html, v); err != nil {
		return Message{}, err
	}
	return Message{
		From:    n.sender,
		To:      append([]string(nil), to...),
		Subject: HeaderText(subj.String()),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

func (n *Notifier) dispatch(ctx context.Context, k kind, v view, to []string) {
	if len(to) == 0 {
		n.logger.Warn("notification has no recipients", zap.String("kind", k.name))
		return
	}
	msg, err := n.render(k, v, to)
	if err != nil {
		n.logger.Error("render notification", zap.String("kind", k.name), zap.Error(err))
		n.observe(k.name, err)
		return
	}
	if n.sync {
		n.deliver(ctx, k.name, msg)
		return
	}
	// the caller's request context ends when the handler returns
	bg := context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliver(bg, k.name, msg)
	}()
}

func (n *Notifier) deliver(ctx context.Context, name string, msg Message) {
	err := n.mailer.Send(ctx, msg)
	n.observe(name, err)
	if err != nil {
		n.logger.Error("send notification",
			zap.String("kind", name),
			zap.Strings("to", msg.To),
			zap.Error(err))
		return
	}
	n.logger.Debug("notification sent", zap.String("kind", name), zap.Strings("to", msg.To))
}

func (n *Notifier) observe(name string, err error) {
	if n.observer != nil {
		n.observer.ObserveNotification(name, err)
	}
}
