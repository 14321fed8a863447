package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/tradecall/platform/internal/tenant"
	"github.com/tradecall/platform/pkg/logging"
)

type fakeSMS struct {
	sent []string
	err  error
}

func (f *fakeSMS) SendSMS(_ context.Context, from, to, body string) (string, error) {
	f.sent = append(f.sent, from+"->"+to+": "+body)
	return "SM1", f.err
}

type fakeEmail struct {
	sent []EmailMessage
	err  error
}

func (f *fakeEmail) Send(_ context.Context, msg EmailMessage) error {
	f.sent = append(f.sent, msg)
	return f.err
}

func testTenant() *tenant.Tenant {
	return &tenant.Tenant{
		ID:            "flowrite-plumbing",
		Name:          "FlowRite Plumbing",
		Category:      "plumber",
		RoutingNumber: "+15551234567",
		ForwardNumber: "+15559990000",
	}
}

func TestAlertOperatorSendsSMS(t *testing.T) {
	sms := &fakeSMS{}
	svc := NewService(sms, nil, logging.New("error"), nil)

	err := svc.AlertOperator(context.Background(), testTenant(), "New plumber request:\nName: John Smith")
	if err != nil {
		t.Fatalf("AlertOperator returned error: %v", err)
	}
	if len(sms.sent) != 1 {
		t.Fatalf("expected 1 SMS, got %d", len(sms.sent))
	}
	if sms.sent[0] != "+15551234567->+15559990000: New plumber request:\nName: John Smith" {
		t.Errorf("unexpected SMS routing: %s", sms.sent[0])
	}
}

func TestAlertOperatorEmailsWhenConfigured(t *testing.T) {
	sms := &fakeSMS{}
	email := &fakeEmail{}
	svc := NewService(sms, email, logging.New("error"), nil)

	withEmail := testTenant()
	withEmail.OperatorEmail = "dispatch@flowrite.example.com"
	if err := svc.AlertOperator(context.Background(), withEmail, "alert body"); err != nil {
		t.Fatalf("AlertOperator returned error: %v", err)
	}
	if len(email.sent) != 1 || email.sent[0].To != "dispatch@flowrite.example.com" {
		t.Fatalf("expected email to operator, got %v", email.sent)
	}
	if email.sent[0].Body != "alert body" {
		t.Errorf("email body mismatch: %q", email.sent[0].Body)
	}

	// Tenant without an email on file only gets SMS.
	email.sent = nil
	if err := svc.AlertOperator(context.Background(), testTenant(), "alert body"); err != nil {
		t.Fatalf("AlertOperator returned error: %v", err)
	}
	if len(email.sent) != 0 {
		t.Error("tenant without operator email should not trigger email")
	}
}

func TestAlertOperatorReportsFailuresButTriesEverything(t *testing.T) {
	sms := &fakeSMS{err: errors.New("carrier rejected")}
	email := &fakeEmail{}
	svc := NewService(sms, email, logging.New("error"), nil)

	withEmail := testTenant()
	withEmail.OperatorEmail = "dispatch@flowrite.example.com"
	err := svc.AlertOperator(context.Background(), withEmail, "alert body")
	if err == nil {
		t.Fatal("expected error when SMS delivery fails")
	}
	if len(email.sent) != 1 {
		t.Error("email should still be attempted after SMS failure")
	}
}

func TestAlertOperatorValidation(t *testing.T) {
	svc := NewService(&fakeSMS{}, nil, logging.New("error"), nil)

	if err := svc.AlertOperator(context.Background(), nil, "body"); err == nil {
		t.Error("expected error for nil tenant")
	}
	noForward := testTenant()
	noForward.ForwardNumber = ""
	if err := svc.AlertOperator(context.Background(), noForward, "body"); err == nil {
		t.Error("expected error for tenant without forward number")
	}
}
