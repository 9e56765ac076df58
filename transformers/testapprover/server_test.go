package testapprover

import (
	"net/http/httptest"
	"testing"

	"github.com/mlld-lang/mlld/interp"
)

func TestServerApprovesByDefault(t *testing.T) {
	srv := New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	approver := interp.NewHTTPApprover(ts.URL+"/approve", 5)
	approved, err := approver.RequestApproval("deploy", map[string]any{"env": "staging"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approved {
		t.Fatalf("expected approval, got denied")
	}
}

func TestServerDeniesListedGuards(t *testing.T) {
	srv := New("deploy")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	approver := interp.NewHTTPApprover(ts.URL+"/approve", 5)
	approved, err := approver.RequestApproval("deploy", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approved {
		t.Fatalf("expected denial for listed guard")
	}

	decisions := srv.Decisions()
	if len(decisions) != 1 || decisions[0].GuardName != "deploy" {
		t.Fatalf("unexpected decisions recorded: %+v", decisions)
	}
}
