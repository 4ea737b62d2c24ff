package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("socket closed")
	err := New(CodeUpstreamUnavailable, "docker daemon unreachable", cause)

	if !strings.Contains(err.Error(), "UPSTREAM_UNAVAILABLE") {
		t.Fatalf("code missing from message: %s", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected unwrap to reach cause")
	}
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"typed", Newf(CodeSafetyBlocked, "denied"), CodeSafetyBlocked},
		{"wrapped", fmt.Errorf("dispatch: %w", Newf(CodeExecutionTimeout, "deadline")), CodeExecutionTimeout},
		{"untyped", stderrors.New("plain"), CodeInternal},
	}
	for _, tc := range cases {
		if got := CodeOf(tc.err); got != tc.want {
			t.Errorf("%s: CodeOf = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestMarshalJSON(t *testing.T) {
	err := New(CodeExecutorError, "query failed", stderrors.New("relation missing")).
		WithContext("skill", "postgres-ops")

	data, mErr := json.Marshal(err)
	if mErr != nil {
		t.Fatalf("marshal: %v", mErr)
	}
	var decoded map[string]any
	if uErr := json.Unmarshal(data, &decoded); uErr != nil {
		t.Fatalf("unmarshal: %v", uErr)
	}
	if decoded["code"] != "EXECUTOR_ERROR" {
		t.Fatalf("unexpected code: %v", decoded["code"])
	}
	if decoded["cause"] != "relation missing" {
		t.Fatalf("unexpected cause: %v", decoded["cause"])
	}
}
