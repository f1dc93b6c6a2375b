package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rakshanetra/core/internal/pkg/apperr"
)

func TestGrant(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/grant_access" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"token_id": 42,
			"tx_hash":  "0xdeadbeef",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	res, err := c.Grant(context.Background(), "0xabc", "gas_1", 60)
	if err != nil {
		t.Fatal(err)
	}
	if res.TokenID != 42 || res.TxHash != "0xdeadbeef" {
		t.Errorf("result = %+v", res)
	}
	if gotBody["user_address"] != "0xabc" || gotBody["resource"] != "gas_1" || gotBody["duration"] != float64(60) {
		t.Errorf("request body = %v", gotBody)
	}
}

func TestGrantValidationSkipsNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	for _, tc := range []struct {
		addr, resource string
		duration       int64
	}{
		{"", "gas_1", 60},
		{"0xabc", "", 60},
		{"0xabc", "gas_1", 0},
	} {
		if _, err := c.Grant(context.Background(), tc.addr, tc.resource, tc.duration); !apperr.IsValidation(err) {
			t.Errorf("Grant(%q, %q, %d): err = %v, want validation error", tc.addr, tc.resource, tc.duration, err)
		}
	}
	if calls != 0 {
		t.Errorf("server saw %d calls, want 0", calls)
	}
}

func TestRevokeServiceRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Token is already invalid"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	_, err := c.Revoke(context.Background(), 7)
	if !apperr.IsAuthorization(err) {
		t.Fatalf("err = %v, want authorization error", err)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Message != "Token is already invalid" {
		t.Errorf("err = %v, want the service-provided reason", err)
	}
}

func TestUnreachableServiceIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := New(srv.URL, 200*time.Millisecond, nil)
	if _, err := c.ListRequests(context.Background()); !apperr.IsNetwork(err) {
		t.Errorf("err = %v, want network error", err)
	}
	if _, err := c.Check(context.Background(), 1); !apperr.IsNetwork(err) {
		t.Errorf("err = %v, want network error", err)
	}
}

func TestTimeoutIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL, 50*time.Millisecond, nil)
	start := time.Now()
	_, err := c.Check(context.Background(), 1)
	if !apperr.IsNetwork(err) {
		t.Fatalf("err = %v, want network error", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("call took %v, timeout did not bound the wait", elapsed)
	}
}

func TestBatchStatusFillsTokenIDsByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tokens []int64 `json:"tokens"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Tokens) != 3 {
			t.Errorf("tokens = %v", body.Tokens)
		}
		// Index-aligned response with token ids omitted.
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{
			{"status": "Active", "remaining_time": 30},
			{"status": "Revoked", "remaining_time": 0},
			{"status": "Expired", "remaining_time": 0},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	res, err := c.BatchStatus(context.Background(), []int64{11, 22, 33})
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{11, 22, 33}
	for i, r := range res {
		if r.TokenID != want[i] {
			t.Errorf("res[%d].TokenID = %d, want %d", i, r.TokenID, want[i])
		}
	}
	if res[0].RemainingSeconds != 30 || res[1].Status != "Revoked" {
		t.Errorf("res = %+v", res)
	}
}

func TestBatchStatusEmptyInputNoCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil)
	res, err := c.BatchStatus(context.Background(), nil)
	if err != nil || res != nil {
		t.Errorf("BatchStatus(nil) = %v, %v", res, err)
	}
	if calls != 0 {
		t.Errorf("server saw %d calls, want 0", calls)
	}
}
