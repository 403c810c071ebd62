package archive

import (
	"strings"

	"github.com/tonean/mira/internal/quotes"
	"github.com/tonean/mira/internal/store"
)

// SelfAccountID is the synthetic account id for the archive owner's own
// record; their posts accumulate there.
const SelfAccountID = "self"

// Source channel tags recorded on each person.
const (
	SourceArchiveX    = "archive-x"
	SourceTakeoutMbox = "takeout-mbox"
)

// Key identifies one person within one owner's graph.
type Key struct {
	OwnerEmail string
	AccountID  string
}

// Owner identifies the archive owner all aggregated records are scoped to.
type Owner struct {
	Email    string
	Username string
	Name     string
}

// Aggregator folds parser output into per-person aggregates. It holds no
// I/O and is built fresh per pipeline run.
type Aggregator struct {
	owner Owner

	people     map[Key]*store.Person
	candidates map[Key][]string
	order      []Key

	minQuoteLen int
}

// NewAggregator creates an empty aggregator for one owner.
func NewAggregator(owner Owner) *Aggregator {
	return &Aggregator{
		owner:       owner,
		people:      make(map[Key]*store.Person),
		candidates:  make(map[Key][]string),
		minQuoteLen: quotes.DefaultMinQuoteLength,
	}
}

// SetMinQuoteLength overrides the minimum accepted quote length.
func (a *Aggregator) SetMinQuoteLength(n int) {
	if n > 0 {
		a.minQuoteLen = n
	}
}

// ensure returns the person for accountID, creating it with the given
// relation kind on first sight. An existing person's relation kind is only
// upgraded, never downgraded.
func (a *Aggregator) ensure(accountID, relationKind, sourceChannel string) *store.Person {
	key := Key{OwnerEmail: a.owner.Email, AccountID: accountID}
	if p, ok := a.people[key]; ok {
		p.RelationKind = store.MergeRelation(p.RelationKind, relationKind)
		return p
	}
	p := &store.Person{
		UserEmail:     a.owner.Email,
		AccountID:     accountID,
		RelationKind:  relationKind,
		SourceChannel: sourceChannel,
	}
	a.people[key] = p
	a.order = append(a.order, key)
	return p
}

// AddRecord folds one parsed archive record.
func (a *Aggregator) AddRecord(rec Record) {
	switch {
	case rec.Follower != nil:
		a.AddFollower(rec.Follower.AccountID)
	case rec.Following != nil:
		a.AddFollowing(rec.Following.AccountID)
	case rec.Post != nil:
		a.AddPost(rec.Post)
	}
}

// AddFollower records that accountID follows the owner.
func (a *Aggregator) AddFollower(accountID string) {
	if accountID == "" {
		return
	}
	a.ensure(accountID, store.RelationFollower, SourceArchiveX)
}

// AddFollowing records that the owner follows accountID. The follow flag is
// monotonic: once set it never resets.
func (a *Aggregator) AddFollowing(accountID string) {
	if accountID == "" {
		return
	}
	p := a.ensure(accountID, store.RelationFollowing, SourceArchiveX)
	p.IsFollowed = true
}

// AddPost appends the owner's cleaned post text to the synthetic self record
// and a tagged quote to every mentioned person. People are recorded even when
// the post text cleans to empty; only the quote appends need text.
func (a *Aggregator) AddPost(post *Post) {
	if post == nil {
		return
	}
	cleaned := quotes.Clean(post.FullText)

	self := a.ensure(SelfAccountID, store.RelationSelf, SourceArchiveX)
	if self.Username == "" {
		self.Username = a.owner.Username
	}
	if self.DisplayName == "" {
		self.DisplayName = a.owner.Name
	}
	if cleaned.Text != "" {
		a.addCandidate(self, cleaned.Text)
	}

	for _, m := range post.Entities.UserMentions {
		if m.IDStr == "" {
			continue
		}
		p := a.ensure(m.IDStr, store.RelationMentioned, SourceArchiveX)
		if p.Username == "" {
			p.Username = m.ScreenName
		}
		if p.DisplayName == "" {
			p.DisplayName = m.Name
		}
		if cleaned.Text != "" {
			a.addCandidate(p, "Mentioned in: "+cleaned.Text)
		}
	}
}

// AddEmailContact records a person observed in an e-mail export. The address
// doubles as the account id.
func (a *Aggregator) AddEmailContact(email, displayName string) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || email == strings.ToLower(a.owner.Email) {
		return
	}
	p := a.ensure(email, store.RelationEmailContact, SourceTakeoutMbox)
	if p.DisplayName == "" {
		p.DisplayName = strings.TrimSpace(displayName)
	}
}

// AddContactQuote appends a candidate quote (e.g. a subject line) to an
// e-mail contact, creating the contact if needed.
func (a *Aggregator) AddContactQuote(email, text string) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || email == strings.ToLower(a.owner.Email) {
		return
	}
	p := a.ensure(email, store.RelationEmailContact, SourceTakeoutMbox)
	cleaned := quotes.Clean(text)
	if cleaned.Text == "" {
		return
	}
	a.addCandidate(p, cleaned.Text)
}

// addCandidate collects accepted candidate quotes per person. The final
// top-K selection happens in People.
func (a *Aggregator) addCandidate(p *store.Person, text string) {
	key := Key{OwnerEmail: p.UserEmail, AccountID: p.AccountID}
	if !quotes.Accept(text, a.candidates[key], a.minQuoteLen) {
		return
	}
	a.candidates[key] = append(a.candidates[key], text)
}

// Candidates returns the raw candidate quotes collected for an account.
func (a *Aggregator) Candidates(accountID string) []string {
	return a.candidates[Key{OwnerEmail: a.owner.Email, AccountID: accountID}]
}

// People returns the aggregated records in insertion order, with each
// person's quotes reduced to the topic-ranked top-K selection.
func (a *Aggregator) People() []*store.Person {
	out := make([]*store.Person, 0, len(a.order))
	for _, key := range a.order {
		p := a.people[key]
		p.Quotes = quotes.Select(a.candidates[key])
		out = append(out, p)
	}
	return out
}

// Len returns the number of distinct people aggregated so far.
func (a *Aggregator) Len() int {
	return len(a.order)
}
