package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/service"
)

const queueTimeLayout = "2006-01-02 15:04:05"

// amountPrinter groups thousands the way receipts in the store print them.
var amountPrinter = message.NewPrinter(language.Indonesian)

func formatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return amountPrinter.Sprintf("%sRp %d,%02d", sign, cents/100, cents%100)
}

// queueRow is one line of `queue list`. It is also the JSON shape.
type queueRow struct {
	ID          string            `json:"id"`
	OrderID     string            `json:"order_id"`
	Kind        string            `json:"kind"`
	AmountCents int64             `json:"amount_cents,omitempty"`
	Status      domain.SyncStatus `json:"status"`
	Retries     int               `json:"retries"`
	QueuedAt    time.Time         `json:"queued_at"`
	LastError   string            `json:"last_error,omitempty"`
}

func toQueueRow(item domain.SyncQueueItem) queueRow {
	row := queueRow{
		ID:        item.ID,
		OrderID:   item.EntityID,
		Kind:      "?",
		Status:    item.Status,
		Retries:   item.Retries,
		QueuedAt:  item.CreatedAt.UTC(),
		LastError: item.LastError,
	}
	var p domain.OperationPayload
	if err := json.Unmarshal(item.Payload, &p); err == nil && p.Kind != "" {
		row.Kind = string(p.Kind)
		if p.Refund != nil {
			row.AmountCents = p.Refund.AmountCents
		}
	}
	return row
}

func queueLine(cols ...any) string {
	return strings.TrimRight(fmt.Sprintf("%-8s %-10s %-6s %16s %-7s %7v  %-19s  %s", cols...), " ")
}

func writeQueueTable(w io.Writer, rows []queueRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "sync queue is empty")
		return err
	}
	if _, err := fmt.Fprintln(w, queueLine("ID", "ORDER", "KIND", "AMOUNT", "STATUS", "RETRIES", "QUEUED AT", "LAST ERROR")); err != nil {
		return err
	}
	for _, row := range rows {
		amount := "-"
		if row.AmountCents > 0 {
			amount = formatAmount(row.AmountCents)
		}
		line := queueLine(row.ID, row.OrderID, row.Kind, amount, string(row.Status), row.Retries, row.QueuedAt.Format(queueTimeLayout), row.LastError)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeSummary(w io.Writer, s service.Summary) error {
	_, err := fmt.Fprintf(w, "processed %d: %d synced, %d retrying, %d failed, %d skipped\n",
		s.Processed, s.Synced, s.Retrying, s.Failed, s.Skipped)
	return err
}
