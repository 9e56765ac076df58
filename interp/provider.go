package interp

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// HTTPCommandProvider forwards a run directive's resolved command line to
// a remote execution endpoint instead of the local shell (§4.3). The host
// installs it through NewCommandExecutor; a with-clause `using:` map is
// not read.
type HTTPCommandProvider struct {
	client   *resty.Client
	endpoint string
}

// NewHTTPCommandProvider returns an HTTPCommandProvider posting to
// endpoint.
func NewHTTPCommandProvider(endpoint string) *HTTPCommandProvider {
	return &HTTPCommandProvider{
		client:   resty.New(),
		endpoint: endpoint,
	}
}

type httpCommandRequestBody struct {
	Command          string            `json:"command"`
	WorkingDirectory string            `json:"workingDirectory"`
	Vars             map[string]string `json:"vars"`
	Secrets          map[string]string `json:"secrets"`
}

type httpCommandResponseBody struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
}

// RunCommand implements CommandProvider by POSTing the request to the
// configured endpoint and decoding { output, exitCode } from the reply.
func (p *HTTPCommandProvider) RunCommand(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	var out httpCommandResponseBody
	var errOut map[string]any

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(httpCommandRequestBody{
			Command:          req.Command,
			WorkingDirectory: req.WorkingDirectory,
			Vars:             req.Vars,
			Secrets:          req.Secrets,
		}).
		SetResult(&out).
		SetError(&errOut).
		Post(p.endpoint)
	if err != nil {
		return nil, &InterpError{Kind: KindExecution, Code: "HTTP_PROVIDER_UNREACHABLE", Message: err.Error(), Cause: err}
	}
	if resp.IsError() {
		return nil, &InterpError{
			Kind:    KindExecution,
			Code:    "HTTP_PROVIDER_ERROR",
			Message: fmt.Sprintf("command provider returned %s: %v", resp.Status(), errOut),
		}
	}

	if out.ExitCode != 0 {
		return nil, &InterpError{
			Kind:     KindExecution,
			Code:     "COMMAND_NONZERO_EXIT",
			Message:  fmt.Sprintf("command exited with code %d", out.ExitCode),
			Command:  req.Command,
			ExitCode: out.ExitCode,
		}
	}

	return &CommandResult{Output: out.Output, ExitCode: out.ExitCode}, nil
}
