package archive

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"os"
	"strings"
	"time"
)

// MBoxOptions controls a Takeout mbox contact import.
type MBoxOptions struct {
	Path string

	MaxMessageBytes int64 // safety cap per message (body is not needed, headers are)
	LimitMessages   int   // 0 = no limit
}

// MBoxResult reports what an mbox import saw.
type MBoxResult struct {
	MessagesSeen      int
	MessagesSkipped   int
	MessagesTruncated int
	ContactsSeen      int
	Duration          time.Duration
}

func (o MBoxOptions) withDefaults() MBoxOptions {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 4 * 1024 * 1024
	}
	return o
}

// ImportMBox folds the participants of a Google Takeout mbox export into the
// aggregator as email-contact people. Subject lines of messages a contact
// sent become candidate quotes for that contact. Unparseable messages are
// skipped, never fatal.
func ImportMBox(ctx context.Context, agg *Aggregator, opts MBoxOptions) (MBoxResult, error) {
	start := time.Now()
	opts = opts.withDefaults()
	var out MBoxResult

	if strings.TrimSpace(opts.Path) == "" {
		return out, fmt.Errorf("Path is required")
	}

	f, err := os.Open(opts.Path)
	if err != nil {
		return out, fmt.Errorf("failed to open mbox: %w", err)
	}
	defer f.Close()

	decodeHeader := func(s string) string {
		s = strings.TrimSpace(s)
		if s == "" {
			return ""
		}
		if decoded, err := (&mime.WordDecoder{}).DecodeHeader(s); err == nil {
			return decoded
		}
		return s
	}

	flush := func(raw []byte, truncated bool) {
		if len(raw) == 0 {
			return
		}
		out.MessagesSeen++
		if truncated {
			out.MessagesTruncated++
		}

		msg, err := mail.ReadMessage(bytes.NewReader(raw))
		if err != nil {
			// Skip unparseable message, but keep going.
			out.MessagesSkipped++
			return
		}

		h := msg.Header
		subject := decodeHeader(h.Get("Subject"))

		senders := parseAddrList(h.Get("From"))
		for _, p := range senders {
			agg.AddEmailContact(p.Email, p.Name)
			if subject != "" {
				agg.AddContactQuote(p.Email, subject)
			}
			out.ContactsSeen++
		}
		for _, header := range []string{"To", "Cc", "Bcc"} {
			for _, p := range parseAddrList(h.Get(header)) {
				agg.AddEmailContact(p.Email, p.Name)
				out.ContactsSeen++
			}
		}
	}

	// Iterate MBOX messages: a separator is a line beginning "From " at
	// column 0.
	reader := bufio.NewReader(f)
	var buf bytes.Buffer
	var overLimit bool
	var bufBytes int64

	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return out, fmt.Errorf("failed reading mbox: %w", err)
		}

		if strings.HasPrefix(line, "From ") {
			flush(buf.Bytes(), overLimit)
			buf.Reset()
			overLimit = false
			bufBytes = 0
			if opts.LimitMessages > 0 && out.MessagesSeen >= opts.LimitMessages {
				break
			}
		} else if !overLimit {
			bufBytes += int64(len(line))
			if bufBytes > opts.MaxMessageBytes {
				overLimit = true
				// keep what we have; drop remainder until next separator
			} else {
				buf.WriteString(line)
			}
		}

		if err == io.EOF {
			flush(buf.Bytes(), overLimit)
			break
		}
	}

	out.Duration = time.Since(start)
	return out, nil
}

type emailParticipant struct {
	Email string
	Name  string
}

func parseAddrList(s string) []emailParticipant {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(s)
	if err == nil && len(addrs) > 0 {
		out := make([]emailParticipant, 0, len(addrs))
		for _, a := range addrs {
			if a == nil {
				continue
			}
			if e := strings.TrimSpace(strings.ToLower(a.Address)); e != "" {
				out = append(out, emailParticipant{Email: e, Name: strings.TrimSpace(a.Name)})
			}
		}
		return out
	}
	// Fallback: split by comma.
	parts := strings.Split(s, ",")
	var out []emailParticipant
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := ""
		email := part
		if idx := strings.Index(part, "<"); idx >= 0 {
			if endIdx := strings.Index(part[idx:], ">"); endIdx > 0 {
				name = strings.TrimSpace(part[:idx])
				email = strings.TrimSpace(part[idx+1 : idx+endIdx])
			}
		}
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		out = append(out, emailParticipant{Email: email, Name: name})
	}
	return out
}
