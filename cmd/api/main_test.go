package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"burnflow/auth"
	"burnflow/ledger"
	"burnflow/quote"
)

type stubLedgerService struct {
	stats     ledger.Stats
	statsErr  error
	status    ledger.MilestoneStatus
	statusErr error
}

func (s *stubLedgerService) Stats(context.Context) (ledger.Stats, error) {
	return s.stats, s.statsErr
}

func (s *stubLedgerService) MilestoneStatus(_ context.Context, marketCapUsd float64) (ledger.MilestoneStatus, error) {
	if s.statusErr != nil {
		return ledger.MilestoneStatus{}, s.statusErr
	}
	status := s.status
	status.MarketCapUsd = marketCapUsd
	return status, nil
}

type stubSlotReader struct {
	slots map[ledger.BurnKind]*ledger.Slot
	err   error
}

func (s *stubSlotReader) ReadSlot(_ context.Context, kind ledger.BurnKind) (*ledger.Slot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.slots[kind], nil
}

type stubPrices struct {
	v quote.Valuation
}

func (s *stubPrices) Resolve(context.Context) quote.Valuation { return s.v }

type stubAuth struct {
	login      auth.LoginResult
	loginErr   error
	operatorID string
	role       auth.Role
	verifyErr  error
}

func (s *stubAuth) Login(context.Context, auth.LoginRequest) (auth.LoginResult, error) {
	return s.login, s.loginErr
}

func (s *stubAuth) VerifyToken(string) (string, auth.Role, error) {
	if s.verifyErr != nil {
		return "", "", s.verifyErr
	}
	return s.operatorID, s.role, nil
}

func TestHandleStats_Success(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	spent := uint64(20_000_000)
	acquired := uint64(1_000_000)
	server := &Server{
		ledgerService: &stubLedgerService{
			stats: ledger.Stats{
				TotalBurned: 1_500_000,
				Last24h:     990_000,
				ByKind: map[ledger.BurnKind]ledger.KindStats{
					ledger.BurnKindBuyback: {Count: 2, Quantity: 1_500_000},
				},
				Recent: []ledger.BurnRecord{{
					ID:             "r1",
					Kind:           ledger.BurnKindBuyback,
					Quantity:       990_000,
					Signature:      "sig-burn",
					Price:          ledger.PriceSnapshot{PriceUsd: 0.01},
					LamportsSpent:  &spent,
					TokensAcquired: &acquired,
					CreatedAt:      now,
				}},
			},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()

	server.handleStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalBurned != 1_500_000 || resp.Last24h != 990_000 {
		t.Fatalf("unexpected totals: %+v", resp)
	}
	if resp.ByKind["buyback"].Count != 2 {
		t.Fatalf("unexpected kind stats: %+v", resp.ByKind)
	}
	if len(resp.Recent) != 1 || resp.Recent[0].Signature != "sig-burn" {
		t.Fatalf("unexpected recent burns: %+v", resp.Recent)
	}
	if resp.Recent[0].CreatedAt != now.Format(time.RFC3339) {
		t.Fatalf("expected createdAt %s, got %s", now.Format(time.RFC3339), resp.Recent[0].CreatedAt)
	}
}

func TestHandleStats_WrongMethod(t *testing.T) {
	server := &Server{ledgerService: &stubLedgerService{}}

	req := httptest.NewRequest(http.MethodPost, "/api/stats", nil)
	rec := httptest.NewRecorder()

	server.handleStats(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleStats_UnexpectedError(t *testing.T) {
	server := &Server{ledgerService: &stubLedgerService{statsErr: errors.New("boom")}}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()

	server.handleStats(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHandleMilestones_ReportsNextDue(t *testing.T) {
	next := ledger.Milestone{MarketCapUsd: 50_000, BurnQuantity: 900}
	server := &Server{
		ledgerService: &stubLedgerService{
			status: ledger.MilestoneStatus{
				Items: []ledger.Milestone{
					{MarketCapUsd: 1000, BurnQuantity: 500, Completed: true},
					next,
				},
				NextDue: &next,
			},
		},
		prices: &stubPrices{v: quote.Valuation{MarketCapUsd: 7000, Source: quote.SourcePrimary}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/milestones", nil)
	rec := httptest.NewRecorder()

	server.handleMilestones(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Items        []milestoneResponse `json:"items"`
		MarketCapUsd float64             `json:"marketCapUsd"`
		PriceSource  string              `json:"priceSource"`
		NextDue      *milestoneResponse  `json:"nextDue"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 2 || payload.MarketCapUsd != 7000 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.PriceSource != "primary" {
		t.Fatalf("expected price source surfaced, got %q", payload.PriceSource)
	}
	if payload.NextDue == nil || payload.NextDue.MarketCapUsd != 50_000 {
		t.Fatalf("expected next due milestone, got %+v", payload.NextDue)
	}
}

func TestHandlePrice_SentinelIsVisible(t *testing.T) {
	server := &Server{prices: &stubPrices{v: quote.Valuation{Source: quote.SourceNone}}}

	req := httptest.NewRequest(http.MethodGet, "/api/price", nil)
	rec := httptest.NewRecorder()

	server.handlePrice(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp priceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Source != "none" || resp.PriceUsd != 0 {
		t.Fatalf("expected explicit sentinel, got %+v", resp)
	}
}

func TestHandleLogin_Success(t *testing.T) {
	server := &Server{
		authService: &stubAuth{
			login: auth.LoginResult{
				Token: "jwt-token",
				Operator: auth.Operator{
					ID:          "operator-1",
					DisplayName: "Treasury Ops",
					Role:        auth.RoleOperator,
				},
			},
		},
	}

	body := strings.NewReader(`{"email":"ops@example.com","password":"supersafe"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	rec := httptest.NewRecorder()

	server.handleLogin(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token != "jwt-token" || resp.Role != "operator" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	server := &Server{authService: &stubAuth{loginErr: auth.ErrInvalidCredentials}}

	body := strings.NewReader(`{"email":"ops@example.com","password":"wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	rec := httptest.NewRecorder()

	server.handleLogin(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleSlots_RequiresOperatorRole(t *testing.T) {
	server := &Server{slots: &stubSlotReader{}}

	req := httptest.NewRequest(http.MethodGet, "/api/ops/slots", nil)
	req = req.WithContext(context.WithValue(req.Context(), ctxKeyRole, auth.RoleViewer))
	rec := httptest.NewRecorder()

	server.handleSlots(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleSlots_ReturnsInFlightOperations(t *testing.T) {
	server := &Server{
		slots: &stubSlotReader{slots: map[ledger.BurnKind]*ledger.Slot{
			ledger.BurnKindBuyback: {
				Kind:           ledger.BurnKindBuyback,
				Stage:          ledger.StageTokensAcquired,
				SweepSignature: "s1",
				SwapSignature:  "s2",
				TokensAcquired: 1_000_000,
				LastError:      "burn submit timed out",
			},
		}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ops/slots", nil)
	req = req.WithContext(context.WithValue(req.Context(), ctxKeyRole, auth.RoleOperator))
	rec := httptest.NewRecorder()

	server.handleSlots(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []slotResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 {
		t.Fatalf("expected the one in-flight slot, got %+v", payload.Items)
	}
	if payload.Items[0].Stage != "tokens_acquired" || payload.Items[0].LastError == "" {
		t.Fatalf("unexpected slot payload: %+v", payload.Items[0])
	}
}

func TestWithAuth_RejectsMissingAndBadTokens(t *testing.T) {
	server := &Server{authService: &stubAuth{verifyErr: errors.New("expired")}}
	handler := server.withAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ops/slots", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/ops/slots", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", rec.Code)
	}
}

func TestWithAuth_PassesIdentityThrough(t *testing.T) {
	server := &Server{authService: &stubAuth{operatorID: "operator-1", role: auth.RoleAdmin}}

	var gotID string
	var gotRole auth.Role
	handler := server.withAuth(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = r.Context().Value(ctxKeyOperatorID).(string)
		gotRole, _ = r.Context().Value(ctxKeyRole).(auth.Role)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ops/slots", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotID != "operator-1" || gotRole != auth.RoleAdmin {
		t.Fatalf("identity not propagated: %q %q", gotID, gotRole)
	}
}
