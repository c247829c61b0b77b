package settlement

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/fkhayef/travelmate/pkg/middleware"
)

func (e *testEnv) router() http.Handler {
	h := NewHandler(e.svc)
	r := chi.NewRouter()
	r.Route("/plans/{planId}", func(r chi.Router) {
		r.Mount("/settlement", h.PlanRoutes())
	})
	r.Route("/settlements/{settlementId}", func(r chi.Router) {
		r.Mount("/", h.Routes())
	})
	return r
}

func serveAs(h http.Handler, userID int64, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	body := struct {
		Data any `json:"data"`
	}{Data: v}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHandlerCreateReturnsLocation(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()
	target := fmt.Sprintf("/plans/%d/settlement", env.plan)

	rec := serveAs(router, env.b, http.MethodPost, target)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body)
	}
	var st SettlementResponse
	decodeData(t, rec, &st)
	if st.TreasurerID != env.b || st.Status != StatusPending {
		t.Errorf("settlement = %+v, want PENDING with treasurer %d", st, env.b)
	}
	if want := fmt.Sprintf("/api/v1/settlements/%d", st.ID); rec.Header().Get("Location") != want {
		t.Errorf("Location = %q, want %q", rec.Header().Get("Location"), want)
	}

	tests := []struct {
		name   string
		caller int64
		want   int
	}{
		{"second settlement", env.c, http.StatusConflict},
		{"non-member", env.outsider, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serveAs(router, tt.caller, http.MethodPost, target); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHandlerCalculateAndConfirm(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()
	st := env.open(t)
	env.spend(t, st.ID, env.a, 30000, env.a, env.b, env.c)

	if rec := serveAs(router, env.b, http.MethodPost, fmt.Sprintf("/settlements/%d/calculate", st.ID)); rec.Code != http.StatusForbidden {
		t.Fatalf("calculate by member status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	rec := serveAs(router, env.a, http.MethodPost, fmt.Sprintf("/settlements/%d/calculate", st.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("calculate status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body)
	}
	var calc CalculateResponse
	decodeData(t, rec, &calc)
	if len(calc.Transactions) != 2 || calc.Settlement.Status != StatusInProgress {
		t.Fatalf("calculation = %+v, want 2 transfers IN_PROGRESS", calc)
	}

	var fromB *TransactionResponse
	for _, tx := range calc.Transactions {
		if tx.PayerID == env.b {
			fromB = tx
		}
	}
	if fromB == nil {
		t.Fatalf("no transfer from %d", env.b)
	}

	confirm := fmt.Sprintf("/settlements/%d/transactions/%d/confirm", st.ID, fromB.ID)
	if rec := serveAs(router, env.b, http.MethodPost, confirm); rec.Code != http.StatusForbidden {
		t.Errorf("confirm by payer status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	rec = serveAs(router, env.a, http.MethodPost, confirm)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body)
	}
	var tx TransactionResponse
	decodeData(t, rec, &tx)
	if tx.Status != TransactionCompleted {
		t.Errorf("Status = %s, want %s", tx.Status, TransactionCompleted)
	}

	if rec := serveAs(router, env.a, http.MethodPost, fmt.Sprintf("/settlements/%d/transactions/x/confirm", st.ID)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad transaction id status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
