package service

import (
	"testing"
	"time"

	"github.com/debookshq/statement-engine/internal/core/domain"
)

const (
	testOwner = "OwnerAddr"
	usdcMint  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func classifyFixture() *domain.TransactionBody {
	return &domain.TransactionBody{
		Signature:    "sig-1",
		BlockTime:    time.Date(2021, 2, 11, 12, 0, 0, 0, time.UTC),
		Success:      true,
		Fee:          5000,
		FeePayer:     testOwner,
		AccountKeys:  []string{testOwner, "Counterparty"},
		PreBalances:  []int64{2_000_000_000, 0},
		PostBalances: []int64{1_499_995_000, 500_000_000},
	}
}

func TestClassifyNativeTransferWithFee(t *testing.T) {
	got, err := NewClassifier().Classify(classifyFixture(), testOwner, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2 (fee + transfer): %+v", len(got), got)
	}

	fee := got[0]
	if !fee.IsFeeLineItem() {
		t.Errorf("first record %q is not a fee line-item", fee.Description)
	}
	if fee.Amount != -0.000005 {
		t.Errorf("fee amount = %v, want -0.000005", fee.Amount)
	}

	// The transfer line carries the pure transfer amount, fee excluded.
	xfer := got[1]
	if xfer.Amount != -0.5 {
		t.Errorf("transfer amount = %v, want -0.5", xfer.Amount)
	}
	if xfer.Description != "Sent SOL" {
		t.Errorf("description = %q, want %q", xfer.Description, "Sent SOL")
	}
}

func TestClassifyFeeOnlyWhenOwnerPays(t *testing.T) {
	body := classifyFixture()
	body.FeePayer = "Counterparty"
	body.PreBalances = []int64{0, 2_000_000_000}
	body.PostBalances = []int64{500_000_000, 1_499_995_000}

	got, err := NewClassifier().Classify(body, testOwner, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1: %+v", len(got), got)
	}
	if got[0].Description != "Received SOL" || got[0].Amount != 0.5 {
		t.Errorf("record = %q %v", got[0].Description, got[0].Amount)
	}
}

func TestClassifyTokenDelta(t *testing.T) {
	body := classifyFixture()
	body.PreBalances = []int64{1_000_005_000, 0}
	body.PostBalances = []int64{1_000_000_000, 0}
	body.PreTokenBalances = []domain.TokenBalanceEntry{
		{Mint: usdcMint, Owner: testOwner, Amount: 10},
	}
	body.PostTokenBalances = []domain.TokenBalanceEntry{
		{Mint: usdcMint, Owner: testOwner, Amount: 35.5},
		{Mint: usdcMint, Owner: "Counterparty", Amount: 100},
	}

	tokens := map[string]domain.TokenInfo{
		usdcMint: {Address: usdcMint, Symbol: "USDC", LogoURI: "https://example.com/usdc.png"},
	}
	got, err := NewClassifier().Classify(body, testOwner, tokens)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	// Fee line plus the token delta; the counterparty's balance is ignored.
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(got), got)
	}
	tok := got[1]
	if tok.Amount != 25.5 || tok.TokenName != "USDC" || tok.Description != "Received USDC" {
		t.Errorf("token record = %+v", tok)
	}
	if tok.LogoURI == "" {
		t.Error("token logo not carried over")
	}
}

func TestClassifyUnknownMintFallsBackToAddress(t *testing.T) {
	body := classifyFixture()
	body.FeePayer = "Counterparty"
	body.PreBalances = []int64{0, 0}
	body.PostBalances = []int64{0, 0}
	body.PostTokenBalances = []domain.TokenBalanceEntry{
		{Mint: "Mint1111", Owner: testOwner, Amount: 3},
	}

	got, err := NewClassifier().Classify(body, testOwner, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got) != 1 || got[0].TokenName != "Mint1111" {
		t.Fatalf("got %+v, want token named by its mint", got)
	}
}

func TestClassifyFailedTransaction(t *testing.T) {
	body := classifyFixture()
	body.Success = false

	got, err := NewClassifier().Classify(body, testOwner, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].Success || got[0].Description != "Failed transaction" {
		t.Errorf("record = %+v", got[0])
	}
}

func TestClassifyRejectsBadBody(t *testing.T) {
	c := NewClassifier()
	if _, err := c.Classify(nil, testOwner, nil); err == nil {
		t.Error("nil body accepted")
	}
	if _, err := c.Classify(&domain.TransactionBody{}, testOwner, nil); err == nil {
		t.Error("body without signature accepted")
	}
}
