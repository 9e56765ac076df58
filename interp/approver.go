package interp

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// HTTPApprover requests prompt decisions from a remote approval service,
// satisfying the Approver interface a "prompt" guard decision calls into
// (§4.9 "prompt defers the decision to an external Approver").
type HTTPApprover struct {
	client   *resty.Client
	endpoint string
}

// NewHTTPApprover returns an HTTPApprover posting to endpoint.
func NewHTTPApprover(endpoint string, timeoutSeconds int) *HTTPApprover {
	c := resty.New()
	if timeoutSeconds > 0 {
		c.SetTimeout(secondsToDuration(timeoutSeconds))
	}
	return &HTTPApprover{client: c, endpoint: endpoint}
}

type approvalRequestBody struct {
	GuardName string         `json:"guardName"`
	Scope     map[string]any `json:"scope"`
}

type approvalResponseBody struct {
	Approved bool `json:"approved"`
}

// RequestApproval implements Approver.
func (a *HTTPApprover) RequestApproval(guardName string, scope map[string]any) (bool, error) {
	var out approvalResponseBody
	var errOut map[string]any

	resp, err := a.client.R().
		SetBody(approvalRequestBody{GuardName: guardName, Scope: scope}).
		SetResult(&out).
		SetError(&errOut).
		Post(a.endpoint)
	if err != nil {
		return false, &InterpError{Kind: KindPolicySecurity, Code: "APPROVER_UNREACHABLE", Message: err.Error(), Cause: err}
	}
	if resp.IsError() {
		return false, &InterpError{Kind: KindPolicySecurity, Code: "APPROVER_ERROR", Message: fmt.Sprintf("approver returned %s: %v", resp.Status(), errOut)}
	}
	return out.Approved, nil
}
