package mock

import (
	"context"
	"testing"

	"nwcprovider/internal/wallet"
)

func TestCreateThenPayInvoiceSettlesBothSides(t *testing.T) {
	ctx := context.Background()
	w := New()
	w.Credit("wallet2", 1_000_000)

	inv, err := w.CreateInvoice(ctx, "wallet1", 123, "test 123", "", 1000)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	paymentHash, err := w.PayInvoice(ctx, "wallet2", inv.PaymentRequest, 0, "")
	if err != nil {
		t.Fatalf("PayInvoice: %v", err)
	}
	if paymentHash != inv.PaymentHash {
		t.Fatalf("got payment hash %q want %q", paymentHash, inv.PaymentHash)
	}

	w1, _ := w.GetWallet(ctx, "wallet1")
	w2, _ := w.GetWallet(ctx, "wallet2")
	if w1.BalanceMsat != 123000 {
		t.Fatalf("wallet1 balance = %d, want 123000", w1.BalanceMsat)
	}
	if w2.BalanceMsat != 1_000_000-123000 {
		t.Fatalf("wallet2 balance = %d, want %d", w2.BalanceMsat, 1_000_000-123000)
	}

	status, err := w.CheckTransactionStatus(ctx, "wallet2", paymentHash)
	if err != nil {
		t.Fatalf("CheckTransactionStatus: %v", err)
	}
	if !status.Paid || status.Preimage == "" {
		t.Fatalf("expected settled payment with preimage, got %+v", status)
	}
}

func TestPayInvoiceInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	w := New()
	inv, _ := w.CreateInvoice(ctx, "wallet1", 123, "test", "", 1000)

	_, err := w.PayInvoice(ctx, "wallet2", inv.PaymentRequest, 0, "")
	if err == nil {
		t.Fatal("expected insufficient balance error")
	}
}

func TestGetPaymentsScopedToOwner(t *testing.T) {
	ctx := context.Background()
	w := New()
	w.Credit("wallet2", 1_000_000)

	inv, _ := w.CreateInvoice(ctx, "wallet1", 50, "for wallet1", "", 1000)
	w.PayInvoice(ctx, "wallet2", inv.PaymentRequest, 0, "")

	payments, err := w.GetPayments(ctx, "wallet2", wallet.PaymentFilter{})
	if err != nil {
		t.Fatalf("GetPayments: %v", err)
	}
	if len(payments) != 1 || payments[0].Type != "outgoing" {
		t.Fatalf("expected wallet2 to see its one outgoing payment, got %+v", payments)
	}

	w1Payments, err := w.GetPayments(ctx, "wallet1", wallet.PaymentFilter{})
	if err != nil {
		t.Fatalf("GetPayments: %v", err)
	}
	if len(w1Payments) != 1 || w1Payments[0].Type != "incoming" {
		t.Fatalf("expected wallet1 to see its one incoming payment, got %+v", w1Payments)
	}
}
