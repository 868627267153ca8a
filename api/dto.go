/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Money leaves the API
  as fixed two-decimal strings so no client ever parses it as a float.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  Handler.decode which decodes and validates in one step.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/holadanimestre-arch/crm-escuela-canina-sub000/billing"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SealRequest confirms an irreversible seal. Confirm must be true.
type SealRequest struct {
	Confirm bool   `json:"confirm" validate:"required"`
	Actor   string `json:"actor" validate:"omitempty,max=200"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type TrainerDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AmountsDTO struct {
	Gross           string `json:"gross_amount"`
	Base            string `json:"base_amount"`
	Deducted        string `json:"deducted_amount"`
	Net             string `json:"net_amount"`
	Tax             string `json:"tax_amount"`
	Total           string `json:"total_amount"`
	BlockCount      int    `json:"block_count"`
	EvaluationCount int    `json:"evaluation_count"`
}

type PricingDTO struct {
	Version       string `json:"version"`
	EffectiveFrom string `json:"effective_from"`
	BlockSize     int    `json:"block_size"`
	BlockPrice    string `json:"block_price"`
	EvalPrice     string `json:"eval_price"`
	VATRate       string `json:"vat_rate"`
}

type SourcesDTO struct {
	SessionIDs    []string `json:"session_ids"`
	EvaluationIDs []string `json:"evaluation_ids"`
}

// SettlementDTO is a sealed settlement or a virtual snapshot. Virtual
// snapshots have no id and are recomputed on every read.
type SettlementDTO struct {
	ID        string     `json:"id,omitempty"`
	TrainerID string     `json:"trainer_id"`
	Month     string     `json:"month"`
	Status    string     `json:"status"`
	Virtual   bool       `json:"virtual"`
	Amounts   AmountsDTO `json:"amounts"`
	Pricing   PricingDTO `json:"pricing"`
	Sources   SourcesDTO `json:"sources"`
	SealedAt  string     `json:"sealed_at,omitempty"`
	SealedBy  string     `json:"sealed_by,omitempty"`
}

type ConceptDTO struct {
	Kind         string   `json:"kind"`
	ClientID     string   `json:"client_id"`
	ClientName   string   `json:"client_name"`
	Date         string   `json:"date"`
	Amount       string   `json:"amount"`
	SessionIDs   []string `json:"session_ids,omitempty"`
	EvaluationID string   `json:"evaluation_id,omitempty"`
}

type BreakdownDTO struct {
	Settlement SettlementDTO `json:"settlement"`
	Concepts   []ConceptDTO  `json:"concepts"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
	Resume  string `json:"resume,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toAmountsDTO(a billing.Amounts) AmountsDTO {
	return AmountsDTO{
		Gross:           money(a.Gross),
		Base:            money(a.Base),
		Deducted:        money(a.Deducted),
		Net:             money(a.Net),
		Tax:             money(a.Tax),
		Total:           money(a.Total),
		BlockCount:      a.BlockCount,
		EvaluationCount: a.EvaluationCount,
	}
}

func toPricingDTO(p billing.Pricing) PricingDTO {
	return PricingDTO{
		Version:       p.Version,
		EffectiveFrom: p.EffectiveFrom.String(),
		BlockSize:     p.BlockSize,
		BlockPrice:    money(p.BlockPrice),
		EvalPrice:     money(p.EvalPrice),
		VATRate:       p.VATRate.String(),
	}
}

func toSourcesDTO(s billing.Sources) SourcesDTO {
	dto := SourcesDTO{
		SessionIDs:    make([]string, len(s.SessionIDs)),
		EvaluationIDs: make([]string, len(s.EvaluationIDs)),
	}
	for i, id := range s.SessionIDs {
		dto.SessionIDs[i] = string(id)
	}
	for i, id := range s.EvaluationIDs {
		dto.EvaluationIDs[i] = string(id)
	}
	return dto
}

func toSettlementDTO(snap billing.Snapshot) SettlementDTO {
	s := snap.View()
	dto := SettlementDTO{
		ID:        string(s.ID),
		TrainerID: string(s.TrainerID),
		Month:     s.Month.String(),
		Status:    string(s.Status),
		Amounts:   toAmountsDTO(s.Amounts),
		Pricing:   toPricingDTO(s.Pricing),
		Sources:   toSourcesDTO(s.Sources),
		SealedBy:  s.SealedBy,
	}
	if _, ok := snap.(*billing.VirtualSettlement); ok {
		dto.Virtual = true
	}
	if !s.SealedAt.IsZero() {
		dto.SealedAt = s.SealedAt.Format(time.RFC3339)
	}
	return dto
}

func toConceptDTO(c billing.Concept) ConceptDTO {
	dto := ConceptDTO{
		Kind:         string(c.Kind),
		ClientID:     string(c.ClientID),
		ClientName:   c.ClientName,
		Date:         c.Date.Format("2006-01-02"),
		Amount:       money(c.Amount),
		EvaluationID: string(c.EvaluationID),
	}
	for _, id := range c.SessionIDs {
		dto.SessionIDs = append(dto.SessionIDs, string(id))
	}
	return dto
}
