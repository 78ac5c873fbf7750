package loader

import (
	"strings"

	"github.com/cgem-lab/strainboard/internal/parser"
)

// EmailsSheet is the workbook sheet listing lab contact addresses.
const EmailsSheet = "Emails"

// LabEmails maps a lab name to the addresses notified about its strains.
type LabEmails map[string][]string

// For returns a copy of the addresses for lab.
func (e LabEmails) For(lab string) []string {
	src := e[lab]
	if len(src) == 0 {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// ReadLabEmails reads the Emails sheet: a header row, then lab and address
// in the first two columns. A workbook without the sheet yields an empty map.
func ReadLabEmails(wb *parser.Workbook) LabEmails {
	out := LabEmails{}
	sh, ok := wb.Sheet(EmailsSheet)
	if !ok || len(sh.Rows) < 2 {
		return out
	}
	for _, row := range sh.Rows[1:] {
		if len(row) < 2 {
			continue
		}
		lab := strings.TrimSpace(row[0])
		addr := strings.TrimSpace(row[1])
		if lab == "" || addr == "" {
			continue
		}
		out[lab] = append(out[lab], addr)
	}
	return out
}
