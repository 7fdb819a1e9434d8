//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
)

// providerStub imitates the parts of the Stripe and PayPal APIs the service
// calls. It listens on all interfaces so the api container can reach it.
type providerStub struct {
	srv *httptest.Server
	seq atomic.Int64

	mu       sync.Mutex
	sessions map[string]stubSession
	orders   map[string]stubOrder
}

type stubSession struct {
	OrderID  string
	Amount   int64
	Currency string
}

type stubOrder struct {
	OrderID  string
	Value    string
	Currency string
	Captured bool
}

func startProviderStub() (*providerStub, error) {
	l, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return nil, err
	}
	s := &providerStub{
		sessions: make(map[string]stubSession),
		orders:   make(map[string]stubOrder),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/checkout/sessions", s.createSession)
	mux.HandleFunc("POST /v1/oauth2/token", s.token)
	mux.HandleFunc("POST /v2/checkout/orders", s.createOrder)
	mux.HandleFunc("POST /v2/checkout/orders/{id}/capture", s.captureOrder)

	s.srv = httptest.NewUnstartedServer(mux)
	s.srv.Listener = l
	s.srv.Start()
	return s, nil
}

func (s *providerStub) Port() int { return s.srv.Listener.Addr().(*net.TCPAddr).Port }

func (s *providerStub) Close() { s.srv.Close() }

func (s *providerStub) session(id string) (stubSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sessions[id]
	return v, ok
}

func writeStub(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *providerStub) createSession(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeStub(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"message": err.Error()}})
		return
	}
	var amount int64
	for i := 0; ; i++ {
		prefix := "line_items[" + strconv.Itoa(i) + "]"
		qty := r.PostForm.Get(prefix + "[quantity]")
		if qty == "" {
			break
		}
		q, _ := strconv.ParseInt(qty, 10, 64)
		unit, _ := strconv.ParseInt(r.PostForm.Get(prefix+"[price_data][unit_amount]"), 10, 64)
		amount += q * unit
	}

	id := fmt.Sprintf("cs_test_%d", s.seq.Add(1))
	sess := stubSession{
		OrderID:  r.PostForm.Get("metadata[order_id]"),
		Amount:   amount,
		Currency: r.PostForm.Get("line_items[0][price_data][currency]"),
	}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	writeStub(w, http.StatusOK, map[string]any{
		"id":                  id,
		"object":              "checkout.session",
		"url":                 "https://checkout.stripe.test/c/pay/" + id,
		"status":              "open",
		"payment_status":      "unpaid",
		"client_reference_id": sess.OrderID,
		"metadata":            map[string]string{"order_id": sess.OrderID},
		"amount_total":        amount,
		"currency":            sess.Currency,
	})
}

func (s *providerStub) token(w http.ResponseWriter, _ *http.Request) {
	writeStub(w, http.StatusOK, map[string]any{
		"access_token": "A21AA-stub",
		"token_type":   "Bearer",
		"expires_in":   32400,
	})
}

func (s *providerStub) createOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PurchaseUnits []struct {
			ReferenceID string `json:"reference_id"`
			Amount      struct {
				CurrencyCode string `json:"currency_code"`
				Value        string `json:"value"`
			} `json:"amount"`
		} `json:"purchase_units"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.PurchaseUnits) == 0 {
		writeStub(w, http.StatusBadRequest, map[string]any{"name": "INVALID_REQUEST", "message": "bad body"})
		return
	}
	pu := body.PurchaseUnits[0]
	id := fmt.Sprintf("5O190127TN%06d", s.seq.Add(1))
	s.mu.Lock()
	s.orders[id] = stubOrder{OrderID: pu.ReferenceID, Value: pu.Amount.Value, Currency: pu.Amount.CurrencyCode}
	s.mu.Unlock()

	writeStub(w, http.StatusCreated, map[string]any{
		"id":     id,
		"status": "CREATED",
		"links": []map[string]string{
			{"href": "https://api-m.paypal.test/v2/checkout/orders/" + id, "rel": "self"},
			{"href": "https://www.paypal.test/checkoutnow?token=" + id, "rel": "approve"},
		},
	})
}

func (s *providerStub) captureOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	o, ok := s.orders[id]
	alreadyCaptured := ok && o.Captured
	if ok {
		o.Captured = true
		s.orders[id] = o
	}
	s.mu.Unlock()

	switch {
	case !ok:
		writeStub(w, http.StatusNotFound, map[string]any{
			"name":    "RESOURCE_NOT_FOUND",
			"message": "The specified resource does not exist.",
			"details": []map[string]string{{"issue": "INVALID_RESOURCE_ID"}},
		})
	case alreadyCaptured:
		writeStub(w, http.StatusUnprocessableEntity, map[string]any{
			"name":    "UNPROCESSABLE_ENTITY",
			"message": "The requested action could not be performed.",
			"details": []map[string]string{{"issue": "ORDER_ALREADY_CAPTURED"}},
		})
	default:
		writeStub(w, http.StatusCreated, map[string]any{
			"id":     id,
			"status": "COMPLETED",
			"purchase_units": []map[string]any{{
				"reference_id": o.OrderID,
				"payments": map[string]any{
					"captures": []map[string]any{{
						"id":     "3C679366HH" + id[len(id)-6:],
						"status": "COMPLETED",
						"amount": map[string]string{"currency_code": o.Currency, "value": o.Value},
					}},
				},
			}},
		})
	}
}
