package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"burnflow/auth"
	"burnflow/ledger"
	"burnflow/quote"
)

type ctxKey string

const (
	ctxKeyOperatorID ctxKey = "operatorID"
	ctxKeyRole       ctxKey = "role"
)

type ledgerService interface {
	Stats(ctx context.Context) (ledger.Stats, error)
	MilestoneStatus(ctx context.Context, marketCapUsd float64) (ledger.MilestoneStatus, error)
}

type slotReader interface {
	ReadSlot(ctx context.Context, kind ledger.BurnKind) (*ledger.Slot, error)
}

type priceSource interface {
	Resolve(ctx context.Context) quote.Valuation
}

type authService interface {
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

// Server exposes the dashboard API.
type Server struct {
	ledgerService ledgerService
	slots         slotReader
	prices        priceSource
	authService   authService
}

// Handler wires the route table. Public dashboard reads need no token; the
// ops surface does.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/milestones", s.handleMilestones)
	mux.HandleFunc("/api/price", s.handlePrice)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/ops/slots", s.withAuth(s.handleSlots))
	return mux
}

type priceResponse struct {
	PriceSol     float64 `json:"priceSol"`
	PriceUsd     float64 `json:"priceUsd"`
	MarketCapUsd float64 `json:"marketCapUsd"`
	SolUsd       float64 `json:"solUsd"`
	Source       string  `json:"source"`
	Listed       bool    `json:"listed"`
}

type burnResponse struct {
	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	Quantity       uint64   `json:"quantity"`
	Signature      string   `json:"signature"`
	PriceUsd       float64  `json:"priceUsd"`
	MilestoneCap   *float64 `json:"milestoneCap,omitempty"`
	LamportsSpent  *uint64  `json:"lamportsSpent,omitempty"`
	TokensAcquired *uint64  `json:"tokensAcquired,omitempty"`
	CreatedAt      string   `json:"createdAt"`
}

type kindStatsResponse struct {
	Count    int    `json:"count"`
	Quantity uint64 `json:"quantity"`
}

type statsResponse struct {
	TotalBurned uint64                       `json:"totalBurned"`
	Last24h     uint64                       `json:"last24h"`
	ByKind      map[string]kindStatsResponse `json:"byKind"`
	Recent      []burnResponse               `json:"recent"`
}

type milestoneResponse struct {
	MarketCapUsd  float64 `json:"marketCapUsd"`
	BurnQuantity  uint64  `json:"burnQuantity"`
	ShareOfSupply float64 `json:"shareOfSupply"`
	Completed     bool    `json:"completed"`
	CompletedAt   *string `json:"completedAt,omitempty"`
	Signature     *string `json:"signature,omitempty"`
}

type slotResponse struct {
	Kind              string  `json:"kind"`
	Stage             string  `json:"stage"`
	SweepSignature    string  `json:"sweepSignature,omitempty"`
	LamportsCollected uint64  `json:"lamportsCollected,omitempty"`
	SwapSignature     string  `json:"swapSignature,omitempty"`
	TokensAcquired    uint64  `json:"tokensAcquired,omitempty"`
	BurnSignature     string  `json:"burnSignature,omitempty"`
	BurnQuantity      uint64  `json:"burnQuantity,omitempty"`
	MilestoneCap      float64 `json:"milestoneCap,omitempty"`
	LastError         string  `json:"lastError,omitempty"`
	UpdatedAt         string  `json:"updatedAt"`
}

type loginResponse struct {
	Token       string `json:"token"`
	OperatorID  string `json:"operatorId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.ledgerService.Stats(r.Context())
	if err != nil {
		log.Printf("api: stats: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := statsResponse{
		TotalBurned: stats.TotalBurned,
		Last24h:     stats.Last24h,
		ByKind:      make(map[string]kindStatsResponse, len(stats.ByKind)),
		Recent:      make([]burnResponse, 0, len(stats.Recent)),
	}
	for kind, ks := range stats.ByKind {
		resp.ByKind[string(kind)] = kindStatsResponse{Count: ks.Count, Quantity: ks.Quantity}
	}
	for _, rec := range stats.Recent {
		resp.Recent = append(resp.Recent, burnResponse{
			ID:             rec.ID,
			Kind:           string(rec.Kind),
			Quantity:       rec.Quantity,
			Signature:      rec.Signature,
			PriceUsd:       rec.Price.PriceUsd,
			MilestoneCap:   rec.MilestoneCap,
			LamportsSpent:  rec.LamportsSpent,
			TokensAcquired: rec.TokensAcquired,
			CreatedAt:      rec.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMilestones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	valuation := s.prices.Resolve(r.Context())
	status, err := s.ledgerService.MilestoneStatus(r.Context(), valuation.MarketCapUsd)
	if err != nil {
		log.Printf("api: milestones: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	items := make([]milestoneResponse, 0, len(status.Items))
	for _, m := range status.Items {
		items = append(items, toMilestoneResponse(m))
	}
	payload := struct {
		Items        []milestoneResponse `json:"items"`
		MarketCapUsd float64             `json:"marketCapUsd"`
		PriceSource  string              `json:"priceSource"`
		NextDue      *milestoneResponse  `json:"nextDue,omitempty"`
	}{
		Items:        items,
		MarketCapUsd: status.MarketCapUsd,
		PriceSource:  valuation.Source,
	}
	if status.NextDue != nil {
		next := toMilestoneResponse(*status.NextDue)
		payload.NextDue = &next
	}

	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	v := s.prices.Resolve(r.Context())
	writeJSON(w, http.StatusOK, priceResponse{
		PriceSol:     v.PriceSol,
		PriceUsd:     v.PriceUsd,
		MarketCapUsd: v.MarketCapUsd,
		SolUsd:       v.SolUsd,
		Source:       v.Source,
		Listed:       v.Listed,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		log.Printf("api: login: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:       res.Token,
		OperatorID:  res.Operator.ID,
		DisplayName: res.Operator.DisplayName,
		Role:        string(res.Operator.Role),
	})
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	if !role.CanInspectSlots() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var items []slotResponse
	for _, kind := range []ledger.BurnKind{ledger.BurnKindBuyback, ledger.BurnKindMilestone} {
		slot, err := s.slots.ReadSlot(r.Context(), kind)
		if err != nil {
			log.Printf("api: read slot %s: %v", kind, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if slot == nil {
			continue
		}
		items = append(items, slotResponse{
			Kind:              string(slot.Kind),
			Stage:             string(slot.Stage),
			SweepSignature:    slot.SweepSignature,
			LamportsCollected: slot.LamportsCollected,
			SwapSignature:     slot.SwapSignature,
			TokensAcquired:    slot.TokensAcquired,
			BurnSignature:     slot.BurnSignature,
			BurnQuantity:      slot.BurnQuantity,
			MilestoneCap:      slot.MilestoneCap,
			LastError:         slot.LastError,
			UpdatedAt:         slot.UpdatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, struct {
		Items []slotResponse `json:"items"`
	}{Items: items})
}

// withAuth parses the bearer token and stashes identity in the context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		operatorID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyOperatorID, operatorID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func toMilestoneResponse(m ledger.Milestone) milestoneResponse {
	resp := milestoneResponse{
		MarketCapUsd:  m.MarketCapUsd,
		BurnQuantity:  m.BurnQuantity,
		ShareOfSupply: m.ShareOfSupply,
		Completed:     m.Completed,
		Signature:     m.Signature,
	}
	if m.CompletedAt != nil {
		at := m.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &at
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}
