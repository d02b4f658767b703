package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/navikt/bq-remote-functions/pkg/errs"
	"github.com/navikt/bq-remote-functions/pkg/remotefn"
	"github.com/spf13/cobra"
	"google.golang.org/api/idtoken"
)

type invokeOptions struct {
	url       string
	function  string
	calls     string
	context   map[string]string
	requestID string
	idToken   bool
	audience  string
	timeout   time.Duration
}

func (o *invokeOptions) target() string {
	base := strings.TrimRight(o.url, "/")
	if o.function == "" {
		return base + "/"
	}

	return base + "/functions/" + o.function
}

func (o *invokeOptions) request() (*remotefn.Request, error) {
	req := &remotefn.Request{
		RequestID:          o.requestID,
		Caller:             "bqrf invoke",
		UserDefinedContext: o.context,
	}

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	err := json.Unmarshal([]byte(o.calls), &req.Calls)
	if err != nil {
		return nil, fmt.Errorf("parsing calls: %w", err)
	}

	if req.Calls == nil {
		return nil, remotefn.ErrMissingCalls
	}

	return req, nil
}

// StatusError is a batch answered with an error envelope.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s (retried by BigQuery: %t): %s", e.Code, http.StatusText(e.Code), remotefn.IsRetryableStatus(e.Code), e.Message)
}

func invoke(ctx context.Context, client *http.Client, target string, req *remotefn.Request) (*remotefn.Response, error) {
	const op errs.Op = "bqrf.invoke"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errs.E(errs.Internal, op, err)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, errs.E(errs.Invalid, op, err)
	}

	r.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(r)
	if err != nil {
		return nil, errs.E(errs.IO, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.E(errs.IO, op, err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errs.ErrResponse

		if err := json.Unmarshal(data, &e); err != nil || e.ErrorMessage == "" {
			e.ErrorMessage = strings.TrimSpace(string(data))
		}

		return nil, &StatusError{Code: resp.StatusCode, Message: e.ErrorMessage}
	}

	out := &remotefn.Response{}

	err = json.Unmarshal(data, out)
	if err != nil {
		return nil, errs.E(errs.IO, op, fmt.Errorf("decoding replies: %w", err))
	}

	if len(out.Replies) != len(req.Calls) {
		return nil, errs.E(errs.IO, op, fmt.Errorf("got %d replies for %d calls", len(out.Replies), len(req.Calls)))
	}

	return out, nil
}

func newInvokeCommand(_ *globalOptions) *cobra.Command {
	opts := &invokeOptions{}

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Send one batch to a remote function endpoint, the way BigQuery does",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			client := &http.Client{}

			if opts.idToken {
				audience := opts.audience
				if audience == "" {
					audience = strings.TrimRight(opts.url, "/")
				}

				client, err = idtoken.NewClient(ctx, audience)
				if err != nil {
					return fmt.Errorf("creating id token client: %w", err)
				}
			}

			resp, err := invoke(ctx, client, opts.target(), req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "Base URL of the service")
	cmd.Flags().StringVar(&opts.function, "function", "", "Function to call, empty posts to the root and relies on --context function=...")
	cmd.Flags().StringVar(&opts.calls, "calls", "[]", "Rows as a JSON array of argument arrays")
	cmd.Flags().StringToStringVar(&opts.context, "context", nil, "User defined context, key=value")
	cmd.Flags().StringVar(&opts.requestID, "request-id", "", "Request id, a random one when empty")
	cmd.Flags().BoolVar(&opts.idToken, "id-token", false, "Attach a Google ID token for the service")
	cmd.Flags().StringVar(&opts.audience, "audience", "", "ID token audience, defaults to --url")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}
