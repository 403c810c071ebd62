package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tonean/mira/internal/report"
	"github.com/tonean/mira/internal/store"
)

// Archive file names, as the export lays them out.
var archiveFiles = []struct {
	Name string
	Key  string
}{
	{"follower.js", KeyFollower},
	{"following.js", KeyFollowing},
	{"tweets.js", KeyTweet},
}

// IngestDir runs the base ingestion pass over an export directory: parse
// each known archive file, fold everything into one aggregate, select
// quotes, and upsert the batch. A malformed file fails that file's stage;
// the other files continue.
func IngestDir(ctx context.Context, people *store.Store, owner Owner, dir string, run *report.Run) error {
	agg := NewAggregator(owner)

	for _, af := range archiveFiles {
		stage := run.Stage("parse " + af.Name)
		path := filepath.Join(dir, af.Name)

		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				stage.Skipped++
				continue
			}
			stage.Failed++
			fmt.Printf("Warning: failed to open %s: %v\n", path, err)
			continue
		}

		records, skipped, err := ParseFile(f, af.Key)
		f.Close()
		if err != nil {
			stage.Failed++
			fmt.Printf("Warning: %v\n", err)
			continue
		}

		stage.Attempted += len(records) + skipped
		stage.Skipped += skipped
		for _, rec := range records {
			agg.AddRecord(rec)
			stage.Succeeded++
		}
	}

	if agg.Len() == 0 {
		return fmt.Errorf("no records found in %s", dir)
	}

	upsert := run.Stage("upsert")
	upsert.Merge(people.UpsertPeople(ctx, agg.People()))
	return nil
}

// IngestMBox runs the contact import pass over a Takeout mbox file and
// upserts the resulting email-contact people.
func IngestMBox(ctx context.Context, people *store.Store, owner Owner, path string, run *report.Run) error {
	agg := NewAggregator(owner)

	stage := run.Stage("parse mbox")
	result, err := ImportMBox(ctx, agg, MBoxOptions{Path: path})
	if err != nil {
		stage.Failed++
		return err
	}
	stage.Attempted = result.MessagesSeen
	stage.Succeeded = result.MessagesSeen - result.MessagesSkipped
	stage.Skipped = result.MessagesSkipped
	stage.Duration = result.Duration

	if agg.Len() == 0 {
		return fmt.Errorf("no contacts found in %s", path)
	}

	upsert := run.Stage("upsert")
	upsert.Merge(people.UpsertPeople(ctx, agg.People()))
	return nil
}
