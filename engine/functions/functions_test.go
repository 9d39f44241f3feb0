package functions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReplyPassesThroughAndFlagsReplyUtility(t *testing.T) {
	r := NewReply()
	if r.Name() != "utils.reply.reply" {
		t.Errorf("Name() = %q", r.Name())
	}
	if !r.IsReplyUtility() {
		t.Errorf("expected IsReplyUtility true")
	}
	in := map[string]interface{}{"text": "hi"}
	out, err := r.Call(context.Background(), in)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["text"] != "hi" {
		t.Errorf("out = %#v", out)
	}
}

func TestRequestSuspendsAndCallFails(t *testing.T) {
	r := NewRequest()
	if !r.SuspendsExecution() {
		t.Errorf("expected SuspendsExecution true")
	}
	if _, err := r.Call(context.Background(), nil); err == nil {
		t.Errorf("expected Call to error")
	}
}

func TestHTTPRequestGET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("body"))
	}))
	defer srv.Close()

	fn := NewHTTPRequest(nil)
	out, err := fn.Call(context.Background(), map[string]interface{}{"url": srv.URL})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["status_code"] != http.StatusTeapot {
		t.Errorf("status_code = %#v", out["status_code"])
	}
	if out["body"] != "body" {
		t.Errorf("body = %#v", out["body"])
	}
}

func TestHTTPRequestRequiresURL(t *testing.T) {
	fn := NewHTTPRequest(nil)
	if _, err := fn.Call(context.Background(), map[string]interface{}{}); err == nil {
		t.Errorf("expected error for missing url")
	}
}

func TestHTTPRequestRejectsUnsupportedMethod(t *testing.T) {
	fn := NewHTTPRequest(nil)
	_, err := fn.Call(context.Background(), map[string]interface{}{"url": "http://example.com", "method": "TRACE"})
	if err == nil {
		t.Errorf("expected error for unsupported method")
	}
}

func TestNormalizeSQLValueConvertsByteSlices(t *testing.T) {
	if got := normalizeSQLValue([]byte("hi")); got != "hi" {
		t.Errorf("got %#v", got)
	}
	if got := normalizeSQLValue(int64(3)); got != int64(3) {
		t.Errorf("got %#v", got)
	}
}

func TestParseMessagesIncludesSystemAndConversation(t *testing.T) {
	msgs, err := parseMessages(map[string]interface{}{
		"system": "be terse",
		"messages": []interface{}{
			map[string]interface{}{"role": "user", "content": "hi"},
		},
	})
	if err != nil {
		t.Fatalf("parseMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[1].Content != "hi" {
		t.Errorf("msgs = %#v", msgs)
	}
}
