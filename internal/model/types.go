package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
}

type ProviderInfo struct {
	Name           string                   `json:"name"`
	Type           string                   `json:"type"`
	Families       []string                 `json:"families"`
	RequiresKey    bool                     `json:"requires_key"`
	Capabilities   []string                 `json:"capabilities"`
	KeyEnvVarName  string                   `json:"key_env_var,omitempty"`
	CapabilityAuth []ProviderCapabilityAuth `json:"capability_auth,omitempty"`
}

type ProviderCapabilityAuth struct {
	Capability  string `json:"capability"`
	KeyEnvVar   string `json:"key_env_var"`
	Description string `json:"description,omitempty"`
}

type AmountInfo struct {
	AmountBaseUnits string `json:"amountBaseUnits"`
	AmountDecimal   string `json:"amountDecimal"`
	Decimals        int    `json:"decimals"`
}

// Leg is one side (source or destination) of a plan or plan step.
type Leg struct {
	Network string     `json:"network"`
	ChainID string     `json:"chainId"`
	Family  string     `json:"family"`
	AssetID string     `json:"assetId"`
	Token   string     `json:"token"`
	Symbol  string     `json:"symbol,omitempty"`
	Amount  AmountInfo `json:"amount"`
}

// StepQuote is the provider quote attached to a plan step. Data is opaque to
// everything except the adapter that produced it.
type StepQuote struct {
	Provider        string            `json:"provider"`
	QuoteID         string            `json:"quoteId,omitempty"`
	ToAmount        string            `json:"toAmount"`
	ToAmountMin     string            `json:"toAmountMin,omitempty"`
	ApprovalSpender string            `json:"approvalSpender,omitempty"`
	EstimatedFeeUSD float64           `json:"estimatedFeeUsd,omitempty"`
	EstimatedTimeS  int64             `json:"estimatedTimeS,omitempty"`
	Route           string            `json:"route,omitempty"`
	FetchedAt       string            `json:"fetchedAt"`
	ExpiresAt       string            `json:"expiresAt,omitempty"`
	Data            map[string]string `json:"data,omitempty"`
}

// UnsignedTx is the payload a client wallet signs and broadcasts for one step.
type UnsignedTx struct {
	Family         string `json:"family"`
	ChainID        string `json:"chainId"`
	Format         string `json:"format"`
	From           string `json:"from,omitempty"`
	To             string `json:"to,omitempty"`
	Data           string `json:"data,omitempty"`
	Value          string `json:"value,omitempty"`
	Payload        string `json:"payload,omitempty"`
	Memo           string `json:"memo,omitempty"`
	DepositAddress string `json:"depositAddress,omitempty"`
	ProviderRef    string `json:"providerRef,omitempty"`
}

const (
	TxFormatEVMCall       = "evm_call"
	TxFormatSolanaVersion = "solana_versioned_tx"
	TxFormatDeposit       = "deposit_transfer"
)

// RawStatus is a provider status as reported, before normalization.
type RawStatus struct {
	Provider          string `json:"provider"`
	Status            string `json:"status"`
	Substatus         string `json:"substatus,omitempty"`
	Message           string `json:"message,omitempty"`
	DestinationTxHash string `json:"destinationTxHash,omitempty"`
}

// StepKind is the atomic operation a plan step performs.
type StepKind string

const (
	StepKindSwap     StepKind = "SWAP"
	StepKindBridge   StepKind = "BRIDGE"
	StepKindTransfer StepKind = "TRANSFER"
	StepKindWrap     StepKind = "WRAP"
	StepKindUnwrap   StepKind = "UNWRAP"
)
