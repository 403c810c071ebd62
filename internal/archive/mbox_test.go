package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tonean/mira/internal/store"
)

func TestImportMBox_Basic(t *testing.T) {
	tmpDir := t.TempDir()

	mbox := "From someone@example.com Sat Jan 01 00:00:00 2022\n" +
		"Date: Sat, 01 Jan 2022 00:00:00 +0000\n" +
		"From: Someone <someone@example.com>\n" +
		"To: Owner <owner@example.com>\n" +
		"Subject: =?UTF-8?Q?Quarterly_business_review?=\n" +
		"Message-ID: <msg-1@example.com>\n" +
		"\n" +
		"Body 1\n" +
		"\n" +
		"From owner@example.com Sat Jan 02 00:00:00 2022\n" +
		"Date: Sun, 02 Jan 2022 00:00:00 +0000\n" +
		"From: Owner <owner@example.com>\n" +
		"To: Someone <someone@example.com>, Other <other@example.com>\n" +
		"Subject: Re: Quarterly business review\n" +
		"Message-ID: <msg-2@example.com>\n" +
		"\n" +
		"Body 2\n"

	mboxPath := filepath.Join(tmpDir, "test.mbox")
	if err := os.WriteFile(mboxPath, []byte(mbox), 0644); err != nil {
		t.Fatalf("write mbox: %v", err)
	}

	agg := NewAggregator(testOwner)
	res, err := ImportMBox(context.Background(), agg, MBoxOptions{Path: mboxPath})
	if err != nil {
		t.Fatalf("ImportMBox: %v", err)
	}
	if res.MessagesSeen != 2 {
		t.Fatalf("expected 2 messages, got %d", res.MessagesSeen)
	}

	people := agg.People()
	byID := make(map[string]*store.Person)
	for _, p := range people {
		byID[p.AccountID] = p
	}

	// The owner never becomes a contact.
	if _, ok := byID["owner@example.com"]; ok {
		t.Error("owner was aggregated as a contact")
	}

	someone, ok := byID["someone@example.com"]
	if !ok {
		t.Fatal("someone@example.com not aggregated")
	}
	if someone.RelationKind != store.RelationEmailContact {
		t.Errorf("relation = %q, want email-contact", someone.RelationKind)
	}
	if someone.DisplayName != "Someone" {
		t.Errorf("display name = %q, want Someone", someone.DisplayName)
	}
	// The decoded subject of the message they sent became a quote.
	if len(someone.Quotes) != 1 || someone.Quotes[0] != "Quarterly business review" {
		t.Errorf("quotes = %v, want the decoded subject", someone.Quotes)
	}

	if _, ok := byID["other@example.com"]; !ok {
		t.Error("other@example.com not aggregated from recipient list")
	}
}

func TestImportMBox_SkipsUnparseable(t *testing.T) {
	tmpDir := t.TempDir()

	mbox := "From garbage\n" +
		"this is not a mail message at all\n" +
		"\n" +
		"From ok@example.com Sat Jan 01 00:00:00 2022\n" +
		"From: Ok <ok@example.com>\n" +
		"Subject: A perfectly fine message\n" +
		"\n" +
		"Body\n"

	mboxPath := filepath.Join(tmpDir, "test.mbox")
	if err := os.WriteFile(mboxPath, []byte(mbox), 0644); err != nil {
		t.Fatalf("write mbox: %v", err)
	}

	agg := NewAggregator(testOwner)
	res, err := ImportMBox(context.Background(), agg, MBoxOptions{Path: mboxPath})
	if err != nil {
		t.Fatalf("ImportMBox: %v", err)
	}
	if res.MessagesSeen != 2 {
		t.Errorf("messages seen = %d, want 2", res.MessagesSeen)
	}
	if agg.Len() != 1 {
		t.Errorf("aggregated %d people, want 1", agg.Len())
	}
}

func TestImportMBox_MissingPath(t *testing.T) {
	agg := NewAggregator(testOwner)
	if _, err := ImportMBox(context.Background(), agg, MBoxOptions{}); err == nil {
		t.Fatal("expected error for missing path")
	}
}
