package businessflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/massdispatch/app/dto"
	"github.com/amirphl/massdispatch/models"
	"github.com/xuri/excelize/v2"
)

const (
	reportRecipientsSheet = "Recipients"
	reportSummarySheet    = "Summary"
)

// ExportReport renders the delivery outcome of a batch as an XLSX workbook
func (f *MassMessageFlowImpl) ExportReport(ctx context.Context, req *dto.GetMassMessageRequest) (*dto.MassMessageReport, error) {
	batch, err := f.findBatch(ctx, req.CompanyID, req.UUID)
	if err != nil {
		return nil, err
	}

	filter := models.MassMessageRecipientFilter{BatchID: &batch.ID}
	recipients, err := f.recipientRepo.ByFilter(ctx, filter, "scheduled_at ASC, id ASC", 0, 0)
	if err != nil {
		return nil, NewBusinessError("FETCH_RECIPIENTS_FAILED", "Failed to fetch recipients", err)
	}

	content, err := buildBatchReport(batch, recipients)
	if err != nil {
		return nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}

	return &dto.MassMessageReport{
		FileName: fmt.Sprintf("mass_message_%s.xlsx", batch.UUID.String()),
		Content:  content,
	}, nil
}

func buildBatchReport(batch *models.MassMessageBatch, recipients []*models.MassMessageRecipient) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), reportRecipientsSheet); err != nil {
		return nil, err
	}

	header := []string{"address", "display_name", "kind", "status", "scheduled_at", "sent_at", "failure_reason", "gateway_message_id"}
	if err := xl.SetSheetRow(reportRecipientsSheet, "A1", &header); err != nil {
		return nil, err
	}

	var counts models.RecipientCounts
	for i, r := range recipients {
		counts.Total++
		switch r.Status {
		case models.RecipientStatusPending:
			counts.Pending++
		case models.RecipientStatusSent:
			counts.Sent++
		case models.RecipientStatusFailed:
			counts.Failed++
		case models.RecipientStatusCancelled:
			counts.Cancelled++
		}

		record := []string{
			r.Address,
			r.DisplayName,
			string(r.TargetType),
			r.Status.String(),
			r.ScheduledAt.UTC().Format(time.RFC3339),
			formatTimePtr(r.SentAt),
			derefString(r.FailureReason),
			derefString(r.GatewayMessageID),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(reportRecipientsSheet, cell, &record); err != nil {
			return nil, err
		}
	}

	if _, err := xl.NewSheet(reportSummarySheet); err != nil {
		return nil, err
	}
	summary := [][]string{
		{"uuid", batch.UUID.String()},
		{"status", batch.Status.String()},
		{"message_type", string(batch.MessageType)},
		{"target_type", string(batch.TargetType)},
		{"due_at", batch.DueAt.UTC().Format(time.RFC3339)},
		{"timezone", batch.Timezone},
		{"total", strconv.Itoa(counts.Total)},
		{"sent", strconv.Itoa(counts.Sent)},
		{"failed", strconv.Itoa(counts.Failed)},
		{"pending", strconv.Itoa(counts.Pending)},
		{"cancelled", strconv.Itoa(counts.Cancelled)},
		{"error_message", derefString(batch.ErrorMessage)},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := xl.SetSheetRow(reportSummarySheet, cell, &row); err != nil {
			return nil, err
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
