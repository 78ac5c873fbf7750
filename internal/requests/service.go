package requests

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cgem-lab/strainboard/internal/strains"
)

// MaxAddressLen bounds the delivery address.
const MaxAddressLen = 144

// Inventory resolves a strain by lab and entry number.
type Inventory interface {
	Lookup(lab, entry string) (strains.Row, bool)
}

// Contacts returns the addresses notified for a lab.
type Contacts interface {
	For(lab string) []string
}

// Notifier delivers workflow notifications. Recipients are already routed.
type Notifier interface {
	NewRequest(ctx context.Context, rq *Request, requester *User, to []string)
	NewComment(ctx context.Context, rq *Request, c *Comment, commenter *User, to []string)
	NewStatus(ctx context.Context, rq *Request, actor *User, to []string)
	NewVolunteer(ctx context.Context, rq *Request, shipper *User, to []string)
}

// Observer counts workflow events.
type Observer interface {
	ObserveWorkflow(action string)
}

// Service runs the request workflow on top of a Store.
type Service struct {
	store        Store
	inventory    Inventory
	notifier     Notifier
	observer     Observer
	logger       *zap.Logger
	memberDomain string
	now          func() time.Time

	mu       sync.RWMutex
	contacts Contacts
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithObserver sets the workflow metrics observer.
func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMemberDomain marks users whose email ends in @domain as members.
// Without a domain every signed-in user is a member.
func WithMemberDomain(domain string) Option {
	return func(s *Service) { s.memberDomain = strings.TrimPrefix(strings.ToLower(domain), "@") }
}

// WithContacts sets the lab address book.
func WithContacts(c Contacts) Option { return func(s *Service) { s.contacts = c } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService returns a workflow service. inventory may be nil when strains
// are not looked up (tests, CLI listing).
func NewService(store Store, inventory Inventory, opts ...Option) *Service {
	s := &Service{store: store, inventory: inventory, logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetContacts swaps the lab address book, e.g. after a workbook refresh.
func (s *Service) SetContacts(c Contacts) {
	s.mu.Lock()
	s.contacts = c
	s.mu.Unlock()
}

func (s *Service) labEmails(lab string) []string {
	s.mu.RLock()
	c := s.contacts
	s.mu.RUnlock()
	if c == nil {
		return nil
	}
	return c.For(lab)
}

func (s *Service) observe(action string) {
	if s.observer != nil {
		s.observer.ObserveWorkflow(action)
	}
}

// IsMember applies the membership rule to an email address.
func (s *Service) IsMember(email string) bool {
	if s.memberDomain == "" {
		return email != ""
	}
	return strings.HasSuffix(strings.ToLower(email), "@"+s.memberDomain)
}

// EnsureUser records a sign-in and returns the stored user.
func (s *Service) EnsureUser(ctx context.Context, id Identity) (*User, error) {
	email := strings.TrimSpace(id.Email)
	subject := strings.TrimSpace(id.Subject)
	if subject == "" {
		subject = strings.ToLower(email)
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: identity has no subject or email", ErrInvalidInput)
	}
	name := strings.TrimSpace(id.Name)
	if name == "" {
		name = email
	}
	u := &User{
		SocialID:    subject,
		DisplayName: name,
		Email:       email,
		Member:      s.IsMember(email),
		LastSeen:    s.now().UTC(),
	}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// PlaceInput is a new request as submitted. Empty Email and Address fall
// back to the requester's previous request.
type PlaceInput struct {
	Lab     string `json:"lab"`
	Entry   string `json:"entry"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// Defaults returns the email and address to prefill for u.
func (s *Service) Defaults(ctx context.Context, u *User) (email, address string, err error) {
	prev, err := s.store.LatestRequestBy(ctx, u.ID)
	if errors.Is(err, ErrNotFound) {
		return u.Email, "", nil
	}
	if err != nil {
		return "", "", err
	}
	return prev.PreferredEmail, prev.DeliveryAddress, nil
}

// Place records a request for a strain and tells the owning lab.
func (s *Service) Place(ctx context.Context, requester *User, in PlaceInput) (*Request, error) {
	if !requester.Member {
		return nil, ErrNotMember
	}
	lab, entry := strings.TrimSpace(in.Lab), strings.TrimSpace(in.Entry)
	if lab == "" || entry == "" {
		return nil, fmt.Errorf("%w: lab and entry are required", ErrInvalidInput)
	}
	var row strains.Row
	if s.inventory != nil {
		r, ok := s.inventory.Lookup(lab, entry)
		if !ok {
			return nil, fmt.Errorf("%w: %s_%s", ErrStrainNotFound, lab, entry)
		}
		row = r
	}
	defEmail, defAddress, err := s.Defaults(ctx, requester)
	if err != nil {
		return nil, err
	}
	email := strings.TrimSpace(in.Email)
	if email == "" {
		email = defEmail
	}
	address := strings.TrimSpace(in.Address)
	if address == "" {
		address = defAddress
	}
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email %q: %v", ErrInvalidInput, email, err)
	}
	if utf8.RuneCountInString(address) > MaxAddressLen {
		return nil, fmt.Errorf("%w: address longer than %d characters", ErrInvalidInput, MaxAddressLen)
	}
	rq := &Request{
		ID:              uuid.NewString(),
		RequesterID:     requester.ID,
		StrainLab:       lab,
		StrainEntry:     entry,
		Organism:        strains.Display(row.Get(strains.ColOrganism)),
		Strain:          strains.Display(row.Get(strains.ColStrain)),
		Plasmid:         strains.Display(row.Get(strains.ColPlasmid)),
		CreatedAt:       s.now().UTC(),
		Status:          StatusUnassigned,
		Active:          true,
		DeliveryAddress: address,
		PreferredEmail:  email,
	}
	if err := s.store.CreateRequest(ctx, rq); err != nil {
		return nil, err
	}
	s.observe("place")
	s.logger.Info("request placed",
		zap.String("request", rq.ID),
		zap.String("strain", rq.StrainID()),
		zap.Int64("requester", requester.ID))
	if s.notifier != nil {
		s.notifier.NewRequest(ctx, rq, requester, dedupe(s.labEmails(lab)))
	}
	return rq, nil
}

// people loads the requester and, when assigned, the shipper of rq.
func (s *Service) people(ctx context.Context, rq *Request) (requester, shipper *User, err error) {
	requester, err = s.store.GetUser(ctx, rq.RequesterID)
	if err != nil {
		return nil, nil, err
	}
	if rq.ShipperID != 0 {
		shipper, err = s.store.GetUser(ctx, rq.ShipperID)
		if err != nil {
			return nil, nil, err
		}
	}
	return requester, shipper, nil
}

// notifyPeople loads the people to email about an already committed change.
// A failed lookup skips the email and leaves the change in place.
func (s *Service) notifyPeople(ctx context.Context, rq *Request, action string) (requester, shipper *User, ok bool) {
	requester, shipper, err := s.people(ctx, rq)
	if err != nil {
		s.logger.Warn("notification skipped",
			zap.String("request", rq.ID),
			zap.String("action", action),
			zap.Error(err))
		return nil, nil, false
	}
	return requester, shipper, true
}

// Volunteer assigns actor as the shipper and tells the requester.
func (s *Service) Volunteer(ctx context.Context, actor *User, id string) (*Request, error) {
	if !actor.Member {
		return nil, ErrNotMember
	}
	rq, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rq.Active {
		return nil, fmt.Errorf("%w: %s", ErrClosed, id)
	}
	rq.ShipperID = actor.ID
	rq.Status = StatusProcessing
	if err := s.store.UpdateRequest(ctx, rq); err != nil {
		return nil, err
	}
	s.observe("volunteer")
	s.logger.Info("request accepted", zap.String("request", rq.ID), zap.Int64("shipper", actor.ID))
	if s.notifier != nil {
		if requester, _, ok := s.notifyPeople(ctx, rq, "volunteer"); ok {
			s.notifier.NewVolunteer(ctx, rq, actor, dedupe([]string{contactEmail(requester, rq)}))
		}
	}
	return rq, nil
}

// SetStatus moves a request to status. Received and cancelled close it.
func (s *Service) SetStatus(ctx context.Context, actor *User, id string, status string) (*Request, error) {
	if !actor.Member {
		return nil, ErrNotMember
	}
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	rq, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	rq.Status = st
	rq.Active = !st.Closes()
	if err := s.store.UpdateRequest(ctx, rq); err != nil {
		return nil, err
	}
	s.observe("status")
	s.logger.Info("request status changed",
		zap.String("request", rq.ID),
		zap.String("status", string(st)),
		zap.Int64("actor", actor.ID))
	if s.notifier != nil {
		if requester, shipper, ok := s.notifyPeople(ctx, rq, "status"); ok {
			s.notifier.NewStatus(ctx, rq, actor, Recipients(actor, requester, shipper, rq, s.labEmails(rq.StrainLab)))
		}
	}
	return rq, nil
}

// AddComment attaches a note to a request and notifies the other side.
func (s *Service) AddComment(ctx context.Context, actor *User, id, body string) (*Comment, error) {
	if !actor.Member {
		return nil, ErrNotMember
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: comment is empty", ErrInvalidInput)
	}
	rq, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	c := &Comment{RequestID: rq.ID, CommenterID: actor.ID, Body: body, CreatedAt: s.now().UTC()}
	if err := s.store.AddComment(ctx, c); err != nil {
		return nil, err
	}
	s.observe("comment")
	s.logger.Info("comment added", zap.String("request", rq.ID), zap.Int64("commenter", actor.ID))
	if s.notifier != nil {
		if requester, shipper, ok := s.notifyPeople(ctx, rq, "comment"); ok {
			s.notifier.NewComment(ctx, rq, c, actor, Recipients(actor, requester, shipper, rq, s.labEmails(rq.StrainLab)))
		}
	}
	return c, nil
}

// Get returns a request with its participants and comments.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	rq, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	requester, shipper, err := s.people(ctx, rq)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.Comments(ctx, rq.ID)
	if err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []CommentView{}
	}
	return &Detail{Request: *rq, Requester: requester, Shipper: shipper, Comments: comments}, nil
}

// List returns requests newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]ListItem, error) {
	items, err := s.store.ListRequests(ctx, opts)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []ListItem{}
	}
	return items, nil
}
