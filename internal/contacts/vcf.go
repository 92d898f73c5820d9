// Package contacts converts between contact lists and vCard 3.0 payloads
// for the dashboard's import/export feature.
package contacts

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/validation"
)

type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// BuildVCF renders one vCard 3.0 entry per contact. Contacts without a
// usable phone number are skipped.
func BuildVCF(list []Contact) string {
	var b strings.Builder
	for i, c := range list {
		digits := validation.NormalizeRecipient(c.Phone)
		if digits == "" {
			continue
		}
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = fmt.Sprintf("Contact %d", i+1)
		}
		b.WriteString("BEGIN:VCARD\r\n")
		b.WriteString("VERSION:3.0\r\n")
		b.WriteString("FN:" + escapeVCF(name) + "\r\n")
		b.WriteString("N:" + escapeVCF(name) + ";;;;\r\n")
		b.WriteString("TEL;TYPE=CELL:+" + digits + "\r\n")
		b.WriteString("END:VCARD\r\n")
	}
	return b.String()
}

// ParseVCF extracts named phone contacts from a vCard stream. Folded
// continuation lines are unfolded; cards without a TEL line are dropped.
func ParseVCF(r io.Reader) ([]Contact, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		out     []Contact
		current *Contact
		prev    string
	)

	flush := func(line string) {
		if line == "" {
			return
		}
		upper := strings.ToUpper(line)
		switch {
		case upper == "BEGIN:VCARD":
			current = &Contact{}
		case upper == "END:VCARD":
			if current != nil && current.Phone != "" {
				out = append(out, *current)
			}
			current = nil
		case current == nil:
			// Property outside a card, ignore.
		case strings.HasPrefix(upper, "FN"):
			if _, value, ok := splitProperty(line); ok && current.Name == "" {
				current.Name = unescapeVCF(value)
			}
		case strings.HasPrefix(upper, "TEL"):
			_, value, ok := splitProperty(line)
			if !ok || current.Phone != "" {
				return
			}
			if digits := validation.NormalizeRecipient(value); digits != "" {
				current.Phone = digits
			}
		}
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		// A leading space or tab continues the previous line.
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			prev += line[1:]
			continue
		}
		flush(prev)
		prev = line
	}
	flush(prev)

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vcf: %w", err)
	}
	return out, nil
}

func splitProperty(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], strings.TrimSpace(line[idx+1:]), true
}

func escapeVCF(s string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		"\n", "\\n",
		",", "\\,",
		";", "\\;",
	)
	return replacer.Replace(s)
}

func unescapeVCF(s string) string {
	replacer := strings.NewReplacer(
		"\\\\", "\\",
		"\\n", "\n",
		"\\,", ",",
		"\\;", ";",
	)
	return replacer.Replace(s)
}
