package archive

import (
	"testing"

	"github.com/tonean/mira/internal/store"
)

var testOwner = Owner{Email: "owner@example.com", Username: "owner", Name: "Owner"}

func TestAggregator_SingleFollowing(t *testing.T) {
	agg := NewAggregator(testOwner)
	agg.AddRecord(Record{Following: &Account{AccountID: "42"}})

	people := agg.People()
	if len(people) != 1 {
		t.Fatalf("got %d people, want 1", len(people))
	}
	p := people[0]
	if p.RelationKind != store.RelationFollowing {
		t.Errorf("relation = %q, want following", p.RelationKind)
	}
	if !p.IsFollowed {
		t.Error("is_followed should be true")
	}
	if len(p.Quotes) != 0 {
		t.Errorf("quotes = %v, want empty", p.Quotes)
	}
}

func TestAggregator_MentionCleaning(t *testing.T) {
	agg := NewAggregator(testOwner)
	post := &Post{FullText: "RT @bob: Check out https://x.co #ai now"}
	post.Entities.UserMentions = []Mention{{IDStr: "7", ScreenName: "bob", Name: "Bob"}}
	agg.AddPost(post)

	got := agg.Candidates("7")
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	want := "Mentioned in: Check out  #ai now"
	if got[0] != want {
		t.Errorf("quote = %q, want %q", got[0], want)
	}

	mentioned := agg.People()
	var bob *store.Person
	for _, p := range mentioned {
		if p.AccountID == "7" {
			bob = p
		}
	}
	if bob == nil {
		t.Fatal("mentioned person not aggregated")
	}
	if bob.RelationKind != store.RelationMentioned {
		t.Errorf("relation = %q, want mentioned", bob.RelationKind)
	}
	if bob.Username != "bob" || bob.DisplayName != "Bob" {
		t.Errorf("identity = %q/%q, want bob/Bob", bob.Username, bob.DisplayName)
	}
}

func TestAggregator_PostBuildsSelfRecord(t *testing.T) {
	agg := NewAggregator(testOwner)
	agg.AddPost(&Post{FullText: "shipping new software for our startup"})

	people := agg.People()
	if len(people) != 1 {
		t.Fatalf("got %d people, want 1", len(people))
	}
	self := people[0]
	if self.AccountID != SelfAccountID || self.RelationKind != store.RelationSelf {
		t.Errorf("unexpected self record: %+v", self)
	}
	if self.Username != "owner" {
		t.Errorf("self username = %q, want owner", self.Username)
	}
	if len(self.Quotes) != 1 {
		t.Errorf("self quotes = %v, want 1 entry", self.Quotes)
	}
}

func TestAggregator_URLOnlyPostStillRecordsMentions(t *testing.T) {
	agg := NewAggregator(testOwner)
	post := &Post{FullText: "https://x.co/abc"}
	post.Entities.UserMentions = []Mention{{IDStr: "7", ScreenName: "bob", Name: "Bob"}}
	agg.AddPost(post)

	var bob *store.Person
	for _, p := range agg.People() {
		if p.AccountID == "7" {
			bob = p
		}
	}
	if bob == nil {
		t.Fatal("mentioned person missing for a post that cleans to empty text")
	}
	if bob.RelationKind != store.RelationMentioned {
		t.Errorf("relation = %q, want mentioned", bob.RelationKind)
	}
	if len(bob.Quotes) != 0 {
		t.Errorf("quotes = %v, want none from empty text", bob.Quotes)
	}
}

func TestAggregator_UniqueKeys(t *testing.T) {
	agg := NewAggregator(testOwner)
	agg.AddFollower("1")
	agg.AddFollower("1")
	agg.AddFollowing("1")
	agg.AddFollower("2")

	people := agg.People()
	seen := make(map[string]bool)
	for _, p := range people {
		key := p.UserEmail + "|" + p.AccountID
		if seen[key] {
			t.Errorf("duplicate key %s", key)
		}
		seen[key] = true
	}
	if len(people) != 2 {
		t.Errorf("got %d people, want 2", len(people))
	}
}

func TestAggregator_RelationNeverDowngrades(t *testing.T) {
	agg := NewAggregator(testOwner)
	agg.AddFollowing("9")
	agg.AddFollower("9")

	people := agg.People()
	if people[0].RelationKind != store.RelationFollowing {
		t.Errorf("relation downgraded to %q", people[0].RelationKind)
	}
	if !people[0].IsFollowed {
		t.Error("is_followed reset by later follower record")
	}
}

func TestAggregator_FollowFlagMonotonic(t *testing.T) {
	agg := NewAggregator(testOwner)
	agg.AddFollowing("5")

	// A second pass over the same identity as a plain follower must not
	// clear the flag.
	agg.AddFollower("5")
	if p := agg.People()[0]; !p.IsFollowed {
		t.Error("is_followed went true -> false")
	}
}

func TestAggregator_QuoteDedupAndCap(t *testing.T) {
	agg := NewAggregator(testOwner)
	for i := 0; i < 8; i++ {
		agg.AddPost(&Post{FullText: "a long enough post about software number " + string(rune('a'+i))})
	}
	agg.AddPost(&Post{FullText: "a long enough post about software number a"})

	self := agg.People()[0]
	if len(self.Quotes) > 5 {
		t.Errorf("quotes = %d entries, cap is 5", len(self.Quotes))
	}
	seen := make(map[string]bool)
	for _, q := range self.Quotes {
		if seen[q] {
			t.Errorf("duplicate quote %q", q)
		}
		seen[q] = true
	}
}

func TestAggregator_EmailContacts(t *testing.T) {
	agg := NewAggregator(testOwner)
	agg.AddEmailContact("Pat@Example.com", "Pat Example")
	agg.AddEmailContact("owner@example.com", "Owner") // owner never becomes a contact
	agg.AddContactQuote("pat@example.com", "Quarterly business review notes")

	people := agg.People()
	if len(people) != 1 {
		t.Fatalf("got %d people, want 1", len(people))
	}
	p := people[0]
	if p.AccountID != "pat@example.com" {
		t.Errorf("account id = %q, want lowercased address", p.AccountID)
	}
	if p.RelationKind != store.RelationEmailContact {
		t.Errorf("relation = %q, want email-contact", p.RelationKind)
	}
	if p.SourceChannel != SourceTakeoutMbox {
		t.Errorf("source = %q, want %q", p.SourceChannel, SourceTakeoutMbox)
	}
	if len(p.Quotes) != 1 {
		t.Errorf("quotes = %v, want the subject line", p.Quotes)
	}
}
