package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Document prefixes used in generated numbers.
const (
	DocTransfer      = "TRF"
	DocAdjustment    = "ADJ"
	DocPurchaseOrder = "PO"
	DocGoodsReceipt  = "GRN"
)

// NextDocumentNumber allocates the next per tenant number for docType in the
// month of at. Call it with the transaction that inserts the document.
func NextDocumentNumber(ctx context.Context, q db.Querier, tenantID int64, docType string, at time.Time) (string, error) {
	var seq int64
	err := q.QueryRow(ctx, `INSERT INTO document_sequences (tenant_id, doc_type, period, seq)
VALUES ($1, $2, $3, 1)
ON CONFLICT (tenant_id, doc_type, period)
DO UPDATE SET seq = document_sequences.seq + 1
RETURNING seq`, tenantID, docType, at.Format("200601")).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("shared: next %s number: %w", docType, err)
	}
	return FormatDocumentNumber(docType, at, seq), nil
}

// FormatDocumentNumber renders {PREFIX}-{YY}{MM}-{SEQ}.
func FormatDocumentNumber(docType string, at time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", docType, at.Format("0601"), seq)
}
