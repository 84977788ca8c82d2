package daemon

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kestrelrun/cua-agent/internal/automation"
	"github.com/kestrelrun/cua-agent/pkg/models"
)

func jsonBody(s string) io.Reader { return strings.NewReader(s) }

type fakeExecutor struct {
	result automation.Result
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, action models.Action) (automation.Result, error) {
	return f.result, f.err
}

func TestHandleComputerUseRejectsInvalidAction(t *testing.T) {
	srv := New(Config{Executor: &fakeExecutor{}})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/computer-use", "application/json", jsonBody(`{"action":"click_mouse"}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400 for invalid action, got %d", resp.StatusCode)
	}
}

func TestHandleComputerUseExecutesValidAction(t *testing.T) {
	srv := New(Config{Executor: &fakeExecutor{result: automation.Result{Screenshot: []byte("png-bytes")}}})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/computer-use", "application/json", jsonBody(`{"action":"screenshot"}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
