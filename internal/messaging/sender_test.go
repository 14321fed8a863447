package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/tradecall/platform/pkg/logging"
)

func newTestSender(t *testing.T, handler http.HandlerFunc) *TwilioSender {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	sender := NewTwilioSender("AC123", "token", logging.New("error"))
	sender.baseURL = server.URL
	return sender
}

func TestSendSMSReturnsProviderSID(t *testing.T) {
	var gotPath string
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostFormValue("To") != "+15557770000" || r.PostFormValue("Body") != "hello" {
			t.Errorf("unexpected payload: %v", r.PostForm)
		}
		if user, pass, _ := r.BasicAuth(); user != "AC123" || pass != "token" {
			t.Error("missing basic auth credentials")
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM777","status":"queued"}`))
	})

	sid, err := sender.SendSMS(context.Background(), "+15551234567", "+15557770000", "hello")
	if err != nil {
		t.Fatalf("SendSMS returned error: %v", err)
	}
	if sid != "SM777" {
		t.Errorf("expected provider sid, got %q", sid)
	}
	if gotPath != "/Accounts/AC123/Messages.json" {
		t.Errorf("wrong endpoint: %s", gotPath)
	}
}

func TestSendSMSRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"sid":"SM888"}`))
	})

	sid, err := sender.SendSMS(context.Background(), "+15551234567", "+15557770000", "hello")
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if sid != "SM888" || calls.Load() != 3 {
		t.Errorf("expected success on third attempt, sid=%q calls=%d", sid, calls.Load())
	}
}

func TestSendSMSDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`))
	})

	_, err := sender.SendSMS(context.Background(), "+15551234567", "bogus", "hello")
	if err == nil {
		t.Fatal("expected error for rejected number")
	}
	if calls.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", calls.Load())
	}
}

func TestSendSMSValidatesInput(t *testing.T) {
	sender := NewTwilioSender("AC123", "token", logging.New("error"))
	if _, err := sender.SendSMS(context.Background(), "+15551234567", "", "hello"); err == nil {
		t.Error("expected error for missing recipient")
	}
	if _, err := sender.SendSMS(context.Background(), "+15551234567", "+15557770000", "  "); err == nil {
		t.Error("expected error for blank body")
	}

	unconfigured := NewTwilioSender("", "", logging.New("error"))
	if _, err := unconfigured.SendSMS(context.Background(), "a", "b", "c"); err == nil {
		t.Error("expected error for missing credentials")
	}
}

func TestStartCallHitsCallsEndpoint(t *testing.T) {
	var gotPath, gotTwiml string
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = r.ParseForm()
		gotTwiml = r.PostFormValue("Twiml")
		_, _ = w.Write([]byte(`{"sid":"CA555"}`))
	})

	sid, err := sender.StartCall(context.Background(), "+15551234567", "+15557770000", SayHangupTwiML("Test call."))
	if err != nil {
		t.Fatalf("StartCall returned error: %v", err)
	}
	if sid != "CA555" {
		t.Errorf("expected call sid, got %q", sid)
	}
	if gotPath != "/Accounts/AC123/Calls.json" {
		t.Errorf("wrong endpoint: %s", gotPath)
	}
	if gotTwiml == "" {
		t.Error("expected TwiML document in payload")
	}
}
