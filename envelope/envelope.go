// Package envelope extracts the header fields mailfiler files messages by.
//
// Only the header section of a message is read. Address fields are parsed
// as RFC 5322 address lists and the subject is RFC 2047 decoded. A field
// that cannot be parsed is kept in its raw form rather than failing the
// whole message.
package envelope

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/migadu/mailfiler/consts"
	"github.com/migadu/mailfiler/pkg/metrics"
)

// MaxHeaderBytes bounds how much of an object is read looking for the end
// of the header section.
const MaxHeaderBytes = 1 << 20

// Envelope holds the parsed header fields of one message.
type Envelope struct {
	Sender  string   // Address of the first From mailbox
	To      []string // Addresses of every To field, in order
	Cc      []string // Addresses of every Cc field, in order
	Date    time.Time
	DateRaw string // Date field as found, set even when it did not parse
	Subject string
}

// HasDate reports whether the message carried a parseable Date field.
func (e *Envelope) HasDate() bool {
	return !e.Date.IsZero()
}

// Parse reads the header section from r. The body is left unread.
func Parse(r io.Reader) (*Envelope, error) {
	br := bufio.NewReader(io.LimitReader(r, MaxHeaderBytes))

	th, err := textproto.ReadHeader(br)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", consts.ErrMalformedMessage, err)
	}
	if th.Len() == 0 {
		return nil, fmt.Errorf("%w: no header fields", consts.ErrMalformedMessage)
	}

	return FromHeader(mail.Header{Header: message.Header{Header: th}}), nil
}

// FromHeader extracts an Envelope from an already parsed header.
func FromHeader(h mail.Header) *Envelope {
	env := &Envelope{
		Sender: parseSender(h),
		To:     parseAddressFields(h, "To"),
		Cc:     parseAddressFields(h, "Cc"),
	}

	env.DateRaw = strings.TrimSpace(h.Get("Date"))
	if env.DateRaw != "" {
		date, err := h.Date()
		if err != nil {
			metrics.HeaderFallbacksTotal.WithLabelValues("date").Inc()
		} else {
			env.Date = date
		}
	}

	subject, err := h.Subject()
	if err != nil {
		// Unknown charset: Subject returns the raw value alongside the error
		metrics.HeaderFallbacksTotal.WithLabelValues("subject").Inc()
	}
	env.Subject = strings.TrimSpace(subject)

	return env
}

func parseSender(h mail.Header) string {
	raw := strings.TrimSpace(h.Get("From"))
	if raw == "" {
		return ""
	}

	addrs, err := mail.ParseAddressList(raw)
	if err != nil {
		metrics.HeaderFallbacksTotal.WithLabelValues("from").Inc()
		return raw
	}
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0].Address
}

// parseAddressFields parses every occurrence of key as an address list and
// concatenates the results.
func parseAddressFields(h mail.Header, key string) []string {
	var result []string

	fields := h.FieldsByKey(key)
	for fields.Next() {
		raw := strings.TrimSpace(fields.Value())
		if raw == "" {
			continue
		}

		addrs, err := mail.ParseAddressList(raw)
		if err != nil {
			metrics.HeaderFallbacksTotal.WithLabelValues(strings.ToLower(key)).Inc()
			result = append(result, raw)
			continue
		}
		for _, addr := range addrs {
			result = append(result, addr.Address)
		}
	}

	return result
}
