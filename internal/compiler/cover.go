package compiler

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

// CoverSheet is the first page of every outbound records request.
type CoverSheet struct {
	ProviderName    string
	ProviderFax     string
	SenderName      string
	ReplyFax        string
	PatientName     string
	DateOfBirth     time.Time
	RequestID       string
	ConsentAttached bool
	Date            time.Time
}

func RenderCoverSheet(c CoverSheet) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, "Request for Medical Records", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, c.Date.Format("January 2, 2006"), "", 1, "R", false, 0, "")
	pdf.Ln(4)

	row := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(45, 8, label, "1", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 8, value, "1", 1, "L", false, 0, "")
	}

	row("To", c.ProviderName)
	row("To fax", c.ProviderFax)
	row("From", c.SenderName)
	if c.ReplyFax != "" {
		row("Reply fax", c.ReplyFax)
	}
	row("Patient", c.PatientName)
	if !c.DateOfBirth.IsZero() {
		row("Date of birth", c.DateOfBirth.Format("01/02/2006"))
	}
	row("Reference", c.RequestID)
	pdf.Ln(8)

	body := "Please release the complete medical records for the patient named above, " +
		"including office notes, laboratory and imaging results, and discharge summaries."
	if c.ConsentAttached {
		body += " The patient's signed authorization is attached."
	}
	body += " Please include the patient's full name and date of birth on the records and fax them to the reply number above."

	pdf.MultiCell(0, 6, body, "", "L", false)
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "I", 9)
	pdf.MultiCell(0, 5, "CONFIDENTIAL: This transmission contains protected health information. "+
		"If you received it in error, notify the sender and destroy all copies.", "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render cover sheet: %w", err)
	}

	return buf.Bytes(), nil
}
