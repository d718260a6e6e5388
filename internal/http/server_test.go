package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"romana/internal/config"
	"romana/internal/core"
	"romana/internal/services"
	"romana/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTPAddr:           "127.0.0.1:0",
		JWTSecret:          "test-secret-0123456789abcdef",
		JWTTTL:             time.Hour,
		BcryptCost:         4,
		CacheTTL:           time.Minute,
		CacheSize:          64,
		RateLimitPerMinute: 0,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	store := storage.NewMemoryStore()
	srv := NewServer(cfg, store, services.NewExpenseService(store, nil))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return srv
}

func do(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeBody(t, rr, &env)
	return env.Error.Code
}

func register(t *testing.T, srv *Server, email string) string {
	t.Helper()
	rr := do(t, srv, http.MethodPost, "/api/auth/register", "", registerRequest{
		Email:       email,
		Password:    "correct-horse-battery",
		DisplayName: "Tester",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp sessionResponse
	decodeBody(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("expected a session token")
	}
	return resp.Token
}

func addExpense(t *testing.T, srv *Server, token, title string, amount float64, paidBy string, split []string) string {
	t.Helper()
	rr := do(t, srv, http.MethodPost, "/api/expenses", token, expenseRequest{
		Title:     title,
		Amount:    amount,
		Date:      "2026-03-14",
		PaidBy:    paidBy,
		SplitWith: split,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create expense status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp expenseResponse
	decodeBody(t, rr, &resp)
	return resp.ID
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, testConfig())

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rr.Code)
		}
	}

	rr := do(t, srv, http.MethodGet, "/healthz", "", nil)
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rr.Header().Get("Content-Security-Policy"); got == "" {
		t.Error("expected a Content-Security-Policy header")
	}

	rr = do(t, srv, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "romana_expenses_created_total") {
		t.Error("metrics output missing expense counter")
	}
}

func TestRegisterValidation(t *testing.T) {
	srv := newTestServer(t, testConfig())
	register(t, srv, "taken@example.com")

	tests := []struct {
		name       string
		req        registerRequest
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid email",
			req:        registerRequest{Email: "not-an-email", Password: "long-enough-password"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   codeValidationFailed,
		},
		{
			name:       "weak password",
			req:        registerRequest{Email: "new@example.com", Password: "short"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   codeWeakPassword,
		},
		{
			name:       "duplicate email",
			req:        registerRequest{Email: "taken@example.com", Password: "long-enough-password"},
			wantStatus: http.StatusConflict,
			wantCode:   codeEmailExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/auth/register", "", tt.req)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if got := errorCode(t, rr); got != tt.wantCode {
				t.Errorf("error code = %q, want %q", got, tt.wantCode)
			}
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader("{not json"))
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		if got := errorCode(t, rr); got != codeInvalidRequest {
			t.Errorf("error code = %q", got)
		}
	})
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t, testConfig())
	register(t, srv, "Mixed.Case@Example.COM")

	// Email lookup is case-insensitive.
	rr := do(t, srv, http.MethodPost, "/api/auth/login", "", loginRequest{
		Email:    "mixed.case@example.com",
		Password: "correct-horse-battery",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp sessionResponse
	decodeBody(t, rr, &resp)
	if resp.Token == "" {
		t.Error("expected a session token")
	}
	if resp.User.Email != "mixed.case@example.com" {
		t.Errorf("email = %q, want normalized lowercase", resp.User.Email)
	}
	if resp.ExpiresIn != int(time.Hour.Seconds()) {
		t.Errorf("expires_in = %d", resp.ExpiresIn)
	}

	rr = do(t, srv, http.MethodPost, "/api/auth/login", "", loginRequest{
		Email:    "mixed.case@example.com",
		Password: "wrong-password-here",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", rr.Code)
	}
	if got := errorCode(t, rr); got != codeInvalidCredentials {
		t.Errorf("error code = %q", got)
	}

	rr = do(t, srv, http.MethodPost, "/api/auth/login", "", loginRequest{
		Email:    "nobody@example.com",
		Password: "correct-horse-battery",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unknown email status = %d", rr.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rr := do(t, srv, http.MethodGet, "/api/expenses", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rr.Code)
	}
	if got := errorCode(t, rr); got != codeUnauthorized {
		t.Errorf("error code = %q", got)
	}

	rr = do(t, srv, http.MethodGet, "/api/expenses", "not-a-real-token", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/expenses", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong scheme status = %d", rec.Code)
	}
}

func TestExpenseCRUD(t *testing.T) {
	srv := newTestServer(t, testConfig())
	token := register(t, srv, "crud@example.com")

	rr := do(t, srv, http.MethodPost, "/api/expenses", token, expenseRequest{
		Title:     "Dinner",
		Amount:    45.5,
		Date:      "2026-03-14",
		PaidBy:    "You",
		SplitWith: []string{"You", "Alex"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}
	var created expenseResponse
	decodeBody(t, rr, &created)
	if created.ID == "" {
		t.Fatal("expected an expense id")
	}
	if created.Title != "Dinner" || !approx(created.Amount, 45.5) {
		t.Errorf("echoed expense = %+v", created)
	}
	if created.Date.String() != "2026-03-14" {
		t.Errorf("date = %s", created.Date)
	}
	if !created.PaidBy.IsSelf() {
		t.Errorf("paid_by = %v, want self", created.PaidBy)
	}

	rr = do(t, srv, http.MethodGet, "/api/expenses", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var list []expenseResponse
	decodeBody(t, rr, &list)
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("list = %+v", list)
	}

	rr = do(t, srv, http.MethodGet, "/api/expenses/"+created.ID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}

	rr = do(t, srv, http.MethodDelete, "/api/expenses/"+created.ID, token, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}

	rr = do(t, srv, http.MethodGet, "/api/expenses/"+created.ID, token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rr.Code)
	}
	if got := errorCode(t, rr); got != codeNotFound {
		t.Errorf("error code = %q", got)
	}

	rr = do(t, srv, http.MethodDelete, "/api/expenses/"+created.ID, token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("double delete status = %d", rr.Code)
	}
}

func TestExpenseValidation(t *testing.T) {
	srv := newTestServer(t, testConfig())
	token := register(t, srv, "validation@example.com")

	tests := []struct {
		name string
		req  expenseRequest
	}{
		{
			name: "zero amount",
			req:  expenseRequest{Title: "Lunch", Amount: 0, Date: "2026-03-14", PaidBy: "You", SplitWith: []string{"You", "Alex"}},
		},
		{
			name: "negative amount",
			req:  expenseRequest{Title: "Lunch", Amount: -5, Date: "2026-03-14", PaidBy: "You", SplitWith: []string{"You", "Alex"}},
		},
		{
			name: "empty title",
			req:  expenseRequest{Title: "  ", Amount: 10, Date: "2026-03-14", PaidBy: "You", SplitWith: []string{"You", "Alex"}},
		},
		{
			name: "bad date",
			req:  expenseRequest{Title: "Lunch", Amount: 10, Date: "14/03/2026", PaidBy: "You", SplitWith: []string{"You", "Alex"}},
		},
		{
			name: "no participants",
			req:  expenseRequest{Title: "Lunch", Amount: 10, Date: "2026-03-14", PaidBy: "You", SplitWith: nil},
		},
		{
			name: "duplicate participant",
			req:  expenseRequest{Title: "Lunch", Amount: 10, Date: "2026-03-14", PaidBy: "You", SplitWith: []string{"Alex", "Alex"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/expenses", token, tt.req)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
			}
		})
	}

	// Nothing should have been stored.
	rr := do(t, srv, http.MethodGet, "/api/expenses", token, nil)
	var list []expenseResponse
	decodeBody(t, rr, &list)
	if len(list) != 0 {
		t.Fatalf("stored %d expenses from invalid requests", len(list))
	}
}

func TestExpenseIsolation(t *testing.T) {
	srv := newTestServer(t, testConfig())
	alice := register(t, srv, "alice@example.com")
	bob := register(t, srv, "bob@example.com")

	id := addExpense(t, srv, alice, "Groceries", 30, "You", []string{"You", "Alex"})

	rr := do(t, srv, http.MethodGet, "/api/expenses/"+id, bob, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("cross-user get status = %d", rr.Code)
	}

	rr = do(t, srv, http.MethodDelete, "/api/expenses/"+id, bob, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("cross-user delete status = %d", rr.Code)
	}

	rr = do(t, srv, http.MethodGet, "/api/expenses/"+id, alice, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("owner get status = %d after cross-user delete attempt", rr.Code)
	}
}

func TestBalances(t *testing.T) {
	srv := newTestServer(t, testConfig())
	token := register(t, srv, "balances@example.com")

	addExpense(t, srv, token, "Trip", 120, "You", []string{"You", "Alex", "Maria"})
	addExpense(t, srv, token, "Dinner", 45, "Alex", []string{"You", "Alex"})

	rr := do(t, srv, http.MethodGet, "/api/balances", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("balances status = %d, body %s", rr.Code, rr.Body.String())
	}
	var sheet core.BalanceSheet
	decodeBody(t, rr, &sheet)

	if len(sheet.Friends) != 2 {
		t.Fatalf("friend balances = %+v", sheet.Friends)
	}
	if sheet.Friends[0].Name != "Alex" || !approx(sheet.Friends[0].Amount, 17.5) {
		t.Errorf("Alex balance = %+v", sheet.Friends[0])
	}
	if sheet.Friends[1].Name != "Maria" || !approx(sheet.Friends[1].Amount, 40) {
		t.Errorf("Maria balance = %+v", sheet.Friends[1])
	}

	sum := sheet.Summary
	if !approx(sum.TotalSpent, 165) {
		t.Errorf("total_spent = %v", sum.TotalSpent)
	}
	if !approx(sum.YouPaid, 120) {
		t.Errorf("you_paid = %v", sum.YouPaid)
	}
	if !approx(sum.YouOwe, 0) {
		t.Errorf("you_owe = %v", sum.YouOwe)
	}
	if !approx(sum.YouAreOwed, 57.5) {
		t.Errorf("you_are_owed = %v", sum.YouAreOwed)
	}
	if !approx(sum.NetBalance, 57.5) {
		t.Errorf("net_balance = %v", sum.NetBalance)
	}
}

func TestBalanceCacheInvalidation(t *testing.T) {
	srv := newTestServer(t, testConfig())
	token := register(t, srv, "cache@example.com")

	fetch := func() core.BalanceSheet {
		t.Helper()
		rr := do(t, srv, http.MethodGet, "/api/balances", token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("balances status = %d", rr.Code)
		}
		var sheet core.BalanceSheet
		decodeBody(t, rr, &sheet)
		return sheet
	}

	if got := fetch().Summary.TotalSpent; !approx(got, 0) {
		t.Fatalf("initial total_spent = %v", got)
	}
	fetch() // served from cache

	addExpense(t, srv, token, "Dinner", 45.5, "You", []string{"You", "Alex"})

	if got := fetch().Summary.TotalSpent; !approx(got, 45.5) {
		t.Fatalf("total_spent after write = %v, cache not invalidated", got)
	}

	rr := do(t, srv, http.MethodGet, "/metrics", "", nil)
	body := rr.Body.String()
	if !strings.Contains(body, "romana_cache_hits_total 1") {
		t.Errorf("expected exactly one cache hit in metrics:\n%s", body)
	}
	if !strings.Contains(body, "romana_cache_misses_total 2") {
		t.Errorf("expected exactly two cache misses in metrics:\n%s", body)
	}
}

func TestFriends(t *testing.T) {
	srv := newTestServer(t, testConfig())
	token := register(t, srv, "friends@example.com")

	rr := do(t, srv, http.MethodPost, "/api/friends", token, friendRequest{Name: "Alex", Handle: "$alexp"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create friend status = %d, body %s", rr.Code, rr.Body.String())
	}
	var alex friendResponse
	decodeBody(t, rr, &alex)
	if alex.ID == "" || alex.Name != "Alex" || alex.Handle != "$alexp" {
		t.Fatalf("friend = %+v", alex)
	}

	// No handle is fine; PromptPay ids are digits.
	for _, req := range []friendRequest{
		{Name: "Maria"},
		{Name: "Nok", Handle: "0812345678"},
		{Name: "Bea", Handle: "@bea"},
	} {
		rr = do(t, srv, http.MethodPost, "/api/friends", token, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create %s status = %d, body %s", req.Name, rr.Code, rr.Body.String())
		}
	}

	rr = do(t, srv, http.MethodPost, "/api/friends", token, friendRequest{Name: "Alex"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate name status = %d", rr.Code)
	}
	if got := errorCode(t, rr); got != codeConflict {
		t.Errorf("error code = %q", got)
	}

	rr = do(t, srv, http.MethodPost, "/api/friends", token, friendRequest{Name: "You"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("reserved name status = %d", rr.Code)
	}

	rr = do(t, srv, http.MethodPost, "/api/friends", token, friendRequest{Name: "Eve", Handle: "alex!"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad handle status = %d", rr.Code)
	}

	rr = do(t, srv, http.MethodGet, "/api/friends", token, nil)
	var list []friendResponse
	decodeBody(t, rr, &list)
	if len(list) != 4 {
		t.Fatalf("friend list = %+v", list)
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Name > list[i].Name {
			t.Fatalf("list not sorted by name: %+v", list)
		}
	}

	rr = do(t, srv, http.MethodDelete, "/api/friends/"+alex.ID, token, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete friend status = %d", rr.Code)
	}
	rr = do(t, srv, http.MethodDelete, "/api/friends/"+alex.ID, token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("double delete status = %d", rr.Code)
	}
}

func TestPaylink(t *testing.T) {
	srv := newTestServer(t, testConfig())
	token := register(t, srv, "paylink@example.com")

	for _, req := range []friendRequest{
		{Name: "Alex", Handle: "$alex"},
		{Name: "Bea", Handle: "@bea"},
		{Name: "Maria"},
	} {
		rr := do(t, srv, http.MethodPost, "/api/friends", token, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("create %s status = %d", req.Name, rr.Code)
		}
	}

	// Alex owes 60, the user owes Bea 15.
	addExpense(t, srv, token, "Trip", 120, "You", []string{"You", "Alex"})
	addExpense(t, srv, token, "Dinner", 30, "Bea", []string{"You", "Bea"})

	t.Run("cashapp", func(t *testing.T) {
		rr := do(t, srv, http.MethodGet, "/api/friends/Alex/paylink", token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
		}
		var resp paylinkResponse
		decodeBody(t, rr, &resp)
		if !approx(resp.Balance, 60) || !approx(resp.Amount, 60) {
			t.Errorf("balance = %v, amount = %v", resp.Balance, resp.Amount)
		}
		if resp.Note != "Settle up" {
			t.Errorf("note = %q", resp.Note)
		}
		if resp.Link.Provider != "cashapp" {
			t.Errorf("provider = %q", resp.Link.Provider)
		}
		if resp.Link.URL != "https://cash.app/$alex/60.00" {
			t.Errorf("url = %q", resp.Link.URL)
		}
	})

	t.Run("venmo debt", func(t *testing.T) {
		rr := do(t, srv, http.MethodGet, "/api/friends/Bea/paylink", token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
		}
		var resp paylinkResponse
		decodeBody(t, rr, &resp)
		if !approx(resp.Balance, -15) || !approx(resp.Amount, 15) {
			t.Errorf("balance = %v, amount = %v", resp.Balance, resp.Amount)
		}
		if resp.Note != "Paying you back" {
			t.Errorf("note = %q", resp.Note)
		}
		u := resp.Link.URL
		if !strings.HasPrefix(u, "https://venmo.com/bea?") {
			t.Errorf("url = %q", u)
		}
		for _, part := range []string{"txn=charge", "amount=15.00", "note=Paying+you+back"} {
			if !strings.Contains(u, part) {
				t.Errorf("url %q missing %q", u, part)
			}
		}
	})

	t.Run("explicit amount", func(t *testing.T) {
		rr := do(t, srv, http.MethodGet, "/api/friends/Alex/paylink?amount=25", token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		var resp paylinkResponse
		decodeBody(t, rr, &resp)
		if !approx(resp.Amount, 25) {
			t.Errorf("amount = %v", resp.Amount)
		}
		if resp.Link.URL != "https://cash.app/$alex/25.00" {
			t.Errorf("url = %q", resp.Link.URL)
		}
	})

	t.Run("invalid amount", func(t *testing.T) {
		for _, q := range []string{"amount=abc", "amount=-5", "amount=0"} {
			rr := do(t, srv, http.MethodGet, "/api/friends/Alex/paylink?"+q, token, nil)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("%s status = %d", q, rr.Code)
			}
		}
	})

	t.Run("no handle", func(t *testing.T) {
		rr := do(t, srv, http.MethodGet, "/api/friends/Maria/paylink", token, nil)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d", rr.Code)
		}
	})

	t.Run("unknown friend", func(t *testing.T) {
		rr := do(t, srv, http.MethodGet, "/api/friends/Nobody/paylink", token, nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("status = %d", rr.Code)
		}
	})

	t.Run("settled", func(t *testing.T) {
		rr := do(t, srv, http.MethodPost, "/api/friends", token, friendRequest{Name: "Quiet", Handle: "$quiet"})
		if rr.Code != http.StatusCreated {
			t.Fatalf("create friend status = %d", rr.Code)
		}
		rr = do(t, srv, http.MethodGet, "/api/friends/Quiet/paylink", token, nil)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("settled status = %d, body %s", rr.Code, rr.Body.String())
		}
		// An explicit amount overrides the settled check.
		rr = do(t, srv, http.MethodGet, "/api/friends/Quiet/paylink?amount=5", token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("settled with amount status = %d", rr.Code)
		}
	})
}

func TestPaylinkQR(t *testing.T) {
	srv := newTestServer(t, testConfig())
	token := register(t, srv, "qr@example.com")

	rr := do(t, srv, http.MethodPost, "/api/friends", token, friendRequest{Name: "Alex", Handle: "$alex"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create friend status = %d", rr.Code)
	}
	addExpense(t, srv, token, "Trip", 120, "You", []string{"You", "Alex"})

	rr = do(t, srv, http.MethodGet, "/api/friends/Alex/paylink/qr", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("qr status = %d, body %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("content type = %q", got)
	}
	png := rr.Body.Bytes()
	if len(png) < 8 || !bytes.Equal(png[:8], []byte("\x89PNG\r\n\x1a\n")) {
		t.Errorf("response is not a PNG, first bytes %x", png[:min(8, len(png))])
	}
}

func TestRecurring(t *testing.T) {
	srv := newTestServer(t, testConfig())
	token := register(t, srv, "recurring@example.com")

	rr := do(t, srv, http.MethodPost, "/api/recurring", token, recurringRequest{
		Title:      "Rent",
		Amount:     850,
		PaidBy:     "You",
		SplitWith:  []string{"You", "Alex"},
		DayOfMonth: 1,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}
	var rule recurringResponse
	decodeBody(t, rr, &rule)
	if rule.ID == "" || rule.Title != "Rent" || rule.DayOfMonth != 1 {
		t.Fatalf("rule = %+v", rule)
	}
	if !rule.Active {
		t.Error("new rule should be active")
	}
	if rule.LastRun != nil {
		t.Errorf("last_run = %v before any run", rule.LastRun)
	}

	// Day 29 and up can't fire in every month.
	rr = do(t, srv, http.MethodPost, "/api/recurring", token, recurringRequest{
		Title:      "Rent",
		Amount:     850,
		PaidBy:     "You",
		SplitWith:  []string{"You", "Alex"},
		DayOfMonth: 31,
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("day 31 status = %d", rr.Code)
	}

	rr = do(t, srv, http.MethodGet, "/api/recurring", token, nil)
	var list []recurringResponse
	decodeBody(t, rr, &list)
	if len(list) != 1 {
		t.Fatalf("list = %+v", list)
	}

	rr = do(t, srv, http.MethodDelete, "/api/recurring/"+rule.ID, token, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	rr = do(t, srv, http.MethodDelete, "/api/recurring/"+rule.ID, token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("double delete status = %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	srv := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		rr := do(t, srv, http.MethodGet, "/healthz", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rr.Code)
		}
	}

	rr := do(t, srv, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit status = %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q", got)
	}
	if got := errorCode(t, rr); got != codeRateLimited {
		t.Errorf("error code = %q", got)
	}
}
