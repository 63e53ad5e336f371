package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestClassifyStatus_Responses(t *testing.T) {
	cases := map[int]string{
		200: StatusClass2xx,
		202: StatusClass2xx,
		299: StatusClass2xx,
		400: StatusClass4xx,
		409: StatusClass4xx,
		422: StatusClass4xx,
		429: StatusClass4xx,
		500: StatusClass5xx,
		503: StatusClass5xx,
		101: StatusClassOtherError,
		304: StatusClassOtherError,
		0:   StatusClassOtherError,
	}
	for code, want := range cases {
		if got := ClassifyStatus(code, nil); got != want {
			t.Errorf("ClassifyStatus(%d, nil) = %q, want %q", code, got, want)
		}
	}
}

func TestClassifyStatus_TransportErrors(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connect: connection refused")}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"advisor attempt deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), StatusClassTimeout},
		{"client timeout wording", errors.New("Client.Timeout exceeded while awaiting headers"), StatusClassTimeout},
		{"dial refused", fmt.Errorf("send: %w", dialErr), StatusClassConnectionError},
		{"unknown advisor host", errors.New("lookup advisor.invalid: no such host"), StatusClassConnectionError},
		{"unreachable network", errors.New("network is unreachable"), StatusClassConnectionError},
		{"truncated body", errors.New("read response: unexpected EOF"), StatusClassOtherError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The status code is ignored once an error is present.
			if got := ClassifyStatus(200, tt.err); got != tt.want {
				t.Errorf("ClassifyStatus(200, %v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
