package web2

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payment-request statuses written back by the bridge.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusPaid       = "paid"
	StatusEscrowed   = "escrowed"
	StatusExpired    = "expired"
	StatusCancelled  = "cancelled"
)

// PaymentRequest is a payment request as stored by the Web2 application.
type PaymentRequest struct {
	RequestID     string `json:"requestId"`
	FromUserID    string `json:"fromUserId"`
	ToUserID      string `json:"toUserId,omitempty"`
	ToEmail       string `json:"toEmail,omitempty"`
	TokenID       string `json:"tokenId"`
	Amount        string `json:"amount"`
	Description   string `json:"description,omitempty"`
	DueDate       string `json:"dueDate,omitempty"`
	Status        string `json:"status"`
	PaymentTxID   string `json:"paymentTxId,omitempty"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	Metadata      string `json:"metadata,omitempty"`
	CreatedAt     string `json:"createdAt"`
	PaidAt        string `json:"paidAt,omitempty"`
}

// RequestMetadata is the part of the request's metadata blob the bridge
// understands. Unknown keys are ignored.
type RequestMetadata struct {
	PayerAddress string `json:"payerAddress,omitempty"`
	PayeeAddress string `json:"payeeAddress,omitempty"`
	EscrowType   string `json:"escrowType,omitempty"`
	FreelancerID string `json:"freelancerId,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`
}

// ParseMetadata decodes the metadata blob. An empty blob is not an error.
func (r PaymentRequest) ParseMetadata() (RequestMetadata, error) {
	var md RequestMetadata
	if strings.TrimSpace(r.Metadata) == "" {
		return md, nil
	}
	if err := json.Unmarshal([]byte(r.Metadata), &md); err != nil {
		return md, fmt.Errorf("decode metadata of payment request %s: %w", r.RequestID, err)
	}
	return md, nil
}

// PaymentUpdate is the PATCH body. Only set fields are sent.
type PaymentUpdate struct {
	Status             string `json:"status,omitempty"`
	BlessTransactionID string `json:"blessTransactionId,omitempty"`
	BlessHash          string `json:"blessHash,omitempty"`
	NetworkFee         string `json:"networkFee,omitempty"`
	PaidAt             string `json:"paidAt,omitempty"`
	EscrowID           string `json:"escrowId,omitempty"`
	EscrowAddress      string `json:"escrowAddress,omitempty"`
	Metadata           string `json:"metadata,omitempty"`
}

// EscrowMetadata is the blob stored on a request once it is escrowed.
type EscrowMetadata struct {
	ProjectID    string `json:"projectId"`
	EscrowType   string `json:"escrowType"`
	BlessNetwork bool   `json:"blessNetwork"`
}

// EscrowRelease notifies the Web2 application of an escrow payout.
type EscrowRelease struct {
	EscrowID        string `json:"escrowId"`
	TransactionHash string `json:"transactionHash"`
	MilestoneID     string `json:"milestoneId,omitempty"`
	Network         string `json:"network"`
	Timestamp       int64  `json:"timestamp"`
}
