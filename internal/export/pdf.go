package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter exports debate reports to PDF format.
type PDFExporter struct{}

// Export writes the report as PDF.
func (e *PDFExporter) Export(report *Report, w io.Writer) error {
	q := report.Question

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)

	pdf.AddPage()

	// Title
	pdf.SetFont("Arial", "B", 18)
	pdf.MultiCell(0, 10, e.sanitizeText(q.Title), "", "C", false)
	pdf.Ln(5)

	// Question section
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Question")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	shortID := q.ID
	if len(shortID) > 8 {
		shortID = shortID[:8] + "..."
	}
	e.addMetadataRow(pdf, "ID:", shortID)
	e.addMetadataRow(pdf, "Type:", string(q.Type))
	if q.Category != "" {
		e.addMetadataRow(pdf, "Category:", q.Category)
	}
	e.addMetadataRow(pdf, "Created:", q.CreatedAt.Format("January 2, 2006 at 3:04 PM"))
	if q.Deadline != nil {
		e.addMetadataRow(pdf, "Deadline:", q.Deadline.Format("January 2, 2006 at 3:04 PM"))
	}
	if q.Description != "" {
		pdf.Ln(2)
		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(0, 5, e.sanitizeText(q.Description), "", "", false)
	}
	pdf.Ln(5)

	// Outcome section
	if final := report.outcome(); final != nil {
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(0, 8, "Outcome")
		pdf.Ln(8)

		pdf.SetFillColor(200, 255, 200) // Light green
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(0, 7, fmt.Sprintf("Concluded: %s", final.TerminationReason), "", 1, "", true, 0, "")
		pdf.SetFillColor(255, 255, 255)

		pdf.SetFont("Arial", "", 10)
		e.addMetadataRow(pdf, "Rounds:", fmt.Sprintf("%d", final.Number))
		e.addMetadataRow(pdf, "Consensus:", fmt.Sprintf("%.2f", final.ConsensusScore))
		e.addMetadataRow(pdf, "Avg confidence:", fmt.Sprintf("%.2f", final.AvgConfidence))
		pdf.Ln(5)
	}

	// Rounds
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Debate")
	pdf.Ln(8)

	grouped := report.argumentsByRound()
	if len(report.Rounds) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.Cell(0, 6, "No rounds recorded.")
		pdf.Ln(6)
	}

	for _, round := range report.Rounds {
		if pdf.GetY() > 250 {
			pdf.AddPage()
		}

		pdf.SetFillColor(220, 220, 220)
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 7, fmt.Sprintf("Round %d", round.Number), "", 1, "", true, 0, "")
		pdf.SetFillColor(255, 255, 255)

		for _, arg := range grouped[round.Number] {
			if pdf.GetY() > 250 {
				pdf.AddPage()
			}

			pdf.SetFillColor(200, 230, 255) // Light blue
			pdf.SetFont("Arial", "B", 10)
			header := fmt.Sprintf("%s - %s (confidence %.2f)", arg.AgentName, arg.Position, arg.Confidence)
			pdf.CellFormat(0, 7, e.sanitizeText(header), "", 1, "", true, 0, "")
			pdf.SetFillColor(255, 255, 255)

			if arg.Reasoning != "" {
				pdf.SetFont("Arial", "", 9)
				pdf.MultiCell(0, 5, e.sanitizeText(arg.Reasoning), "", "", false)
			}
			if arg.Cycle != nil && len(arg.Cycle.Evidence) > 0 {
				pdf.SetFont("Arial", "I", 8)
				for _, ev := range arg.Cycle.Evidence {
					pdf.MultiCell(0, 4, e.sanitizeText(fmt.Sprintf("- %s (%s)", ev.Title, ev.Type)), "", "", false)
				}
			}
			pdf.Ln(3)
		}

		if !round.Open() {
			pdf.SetFont("Arial", "I", 9)
			summary := fmt.Sprintf("Consensus %.2f, avg confidence %.2f", round.ConsensusScore, round.AvgConfidence)
			if len(round.Distribution) > 0 {
				summary += " - " + formatDistribution(round.Distribution)
			}
			pdf.MultiCell(0, 5, summary, "", "", false)
		}
		pdf.Ln(4)
	}

	// Footer
	pdf.SetY(-15)
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 10, "Exported from consilium", "", 0, "C", false, 0, "")

	return pdf.Output(w)
}

// FileExtension returns the file extension for PDF.
func (e *PDFExporter) FileExtension() string {
	return "pdf"
}

// Helper to add a metadata row
func (e *PDFExporter) addMetadataRow(pdf *gofpdf.Fpdf, label, value string) {
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(35, 5, label)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 5, value)
	pdf.Ln(5)
}

// Sanitize text for PDF (remove problematic characters)
func (e *PDFExporter) sanitizeText(text string) string {
	// gofpdf uses Windows-1252 encoding by default
	replacer := strings.NewReplacer(
		"‘", "'", // Left single quote
		"’", "'", // Right single quote
		"“", "\"", // Left double quote
		"”", "\"", // Right double quote
		"–", "-", // En dash
		"—", "--", // Em dash
		"…", "...", // Ellipsis
		"•", "*", // Bullet
		" ", " ", // Non-breaking space
	)
	return replacer.Replace(text)
}
