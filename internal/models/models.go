package models

import "time"

// Token symbols accepted on payment intents. The set a network actually
// supports comes from NetworkConfig.SupportedTokens.
const (
	TokenBLS  = "BLS"
	TokenUSDC = "USDC"
	TokenETH  = "ETH"
	TokenUSDT = "USDT"
	TokenBTC  = "BTC"
)

// MetadataSchemaVersion is the current PaymentMetadata layout.
const MetadataSchemaVersion = 1

type EscrowType string

const (
	EscrowTypeMilestone EscrowType = "milestone"
	EscrowTypeFull      EscrowType = "full"
	EscrowTypePartial   EscrowType = "partial"
)

// PaymentMetadata carries routing and reconciliation hints for an intent.
// The field set is closed; decoders reject anything else.
type PaymentMetadata struct {
	SchemaVersion        int        `json:"schemaVersion,omitempty"`
	InvoiceID            string     `json:"invoiceId,omitempty"`
	ClientID             string     `json:"clientId,omitempty"`
	ProjectID            string     `json:"projectId,omitempty"`
	MilestoneID          string     `json:"milestoneId,omitempty"`
	FreelancerID         string     `json:"freelancerId,omitempty"`
	ClientAddress        string     `json:"clientAddress,omitempty"`
	WorkDescription      string     `json:"workDescription,omitempty"`
	DeadlineTimestamp    *int64     `json:"deadlineTimestamp,omitempty"`
	EscrowType           EscrowType `json:"escrowType,omitempty" validate:"omitempty,oneof=milestone full partial"`
	Web2PaymentID        string     `json:"web2PaymentId,omitempty"`
	Web3LancerUserID     string     `json:"web3LancerUserId,omitempty"`
	Web2RequestID        string     `json:"web2RequestId,omitempty"`
	FreelancerProfileURL string     `json:"freelancerProfileUrl,omitempty"`
}

// IsEscrow is the routing predicate: escrow hints send an intent to the
// escrow engine, everything else is a direct transfer.
func (m PaymentMetadata) IsEscrow() bool {
	return m.EscrowType != "" || m.FreelancerID != ""
}

// PaymentIntent is a request to move funds on the ledger.
type PaymentIntent struct {
	RequestID   string          `json:"requestId"`
	Amount      string          `json:"amount"`
	TokenSymbol string          `json:"tokenSymbol"`
	FromAddress string          `json:"fromAddress"`
	ToAddress   string          `json:"toAddress"`
	Description string          `json:"description,omitempty"`
	Metadata    PaymentMetadata `json:"metadata"`
}

// PaymentResponse is the common result shape of direct and escrow payments.
type PaymentResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	BlessHash     string `json:"blessHash,omitempty"`
	Error         string `json:"error,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	GasUsed       string `json:"gasUsed,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	Confirmations int    `json:"confirmations"`
	EscrowID      string `json:"escrowId,omitempty"`
	NetworkFee    string `json:"networkFee,omitempty"`
}

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

type TxType string

const (
	TxSend    TxType = "send"
	TxReceive TxType = "receive"
	TxSwap    TxType = "swap"
	TxEscrow  TxType = "escrow"
)

// TransactionRecord is a ledger transaction as reported by the network client.
type TransactionRecord struct {
	Hash        string   `json:"hash"`
	BlockNumber uint64   `json:"blockNumber"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Value       string   `json:"value"`
	GasUsed     string   `json:"gasUsed"`
	GasPrice    string   `json:"gasPrice"`
	Timestamp   int64    `json:"timestamp"`
	Status      TxStatus `json:"status"`
	TokenSymbol string   `json:"tokenSymbol,omitempty"`
	Type        TxType   `json:"type,omitempty"`
}

// Wallet is a key-bearing ledger account. Key material never leaves the
// process through JSON.
type Wallet struct {
	Address    string            `json:"address"`
	PublicKey  string            `json:"publicKey"`
	PrivateKey string            `json:"-"`
	Mnemonic   string            `json:"-"`
	Balances   map[string]string `json:"balances"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

type NetworkConfig struct {
	NetworkName     string         `json:"networkName"`
	ChainID         int64          `json:"chainId"`
	RPCURL          string         `json:"rpcUrl"`
	ExplorerURL     string         `json:"explorerUrl"`
	NativeCurrency  NativeCurrency `json:"nativeCurrency"`
	SupportedTokens []TokenInfo    `json:"supportedTokens"`
}

// Supports reports whether symbol is one of the network's tokens. Matching is
// exact: symbols are canonical upper case.
func (c NetworkConfig) Supports(symbol string) bool {
	for _, t := range c.SupportedTokens {
		if t.Symbol == symbol {
			return true
		}
	}
	return false
}

// NowMillis is the timestamp unit used on the wire.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}
