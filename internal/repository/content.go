package repository

import (
	"encoding/json"
	"fmt"
)

// Content is the version payload: exactly one of Quote or Deliverable is set,
// matching Kind.
type Content struct {
	Kind        ArtifactKind        `json:"kind"`
	Quote       *QuoteContent       `json:"quote,omitempty"`
	Deliverable *DeliverableContent `json:"deliverable,omitempty"`
}

// Quote limits. At the maxima the subtotal times the tax rate still fits in
// an int64, so totals never overflow.
const (
	MaxQuotePhases = 200
	MaxPhaseHours  = 10_000
	MaxPhaseRate   = 100_000_000 // minor units per hour
	MaxTaxRateBps  = 10_000
)

// QuoteContent is a priced set of phases.
type QuoteContent struct {
	Phases     []QuotePhase `json:"phases"`
	TaxRateBps int64        `json:"tax_rate_bps"` // 2000 = 20%
	Notes      string       `json:"notes,omitempty"`
}

// QuotePhase is one line item. Only selected phases count toward totals.
type QuotePhase struct {
	Name     string  `json:"name"`
	Hours    float64 `json:"hours"`
	Rate     int64   `json:"rate"` // minor units per hour
	Selected bool    `json:"selected"`
}

// DeliverableContent references a delivered file or document.
type DeliverableContent struct {
	FileRef     string `json:"file_ref"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// QuoteContentOf wraps q as Content.
func QuoteContentOf(q QuoteContent) Content {
	return Content{Kind: ArtifactQuote, Quote: &q}
}

// DeliverableContentOf wraps d as Content.
func DeliverableContentOf(d DeliverableContent) Content {
	return Content{Kind: ArtifactDeliverable, Deliverable: &d}
}

// Validate checks the union tag against the populated branch.
func (c Content) Validate() error {
	switch c.Kind {
	case ArtifactQuote:
		if c.Quote == nil || c.Deliverable != nil {
			return fmt.Errorf("quote content requires exactly the quote payload")
		}
		if len(c.Quote.Phases) > MaxQuotePhases {
			return fmt.Errorf("a quote holds at most %d phases", MaxQuotePhases)
		}
		for i, p := range c.Quote.Phases {
			if !(p.Hours >= 0 && p.Hours <= MaxPhaseHours) {
				return fmt.Errorf("phase %d: hours must be between 0 and %d", i+1, MaxPhaseHours)
			}
			if p.Rate < 0 || p.Rate > MaxPhaseRate {
				return fmt.Errorf("phase %d: rate must be between 0 and %d", i+1, MaxPhaseRate)
			}
		}
		if c.Quote.TaxRateBps < 0 || c.Quote.TaxRateBps > MaxTaxRateBps {
			return fmt.Errorf("tax rate must be between 0 and %d bps", MaxTaxRateBps)
		}
	case ArtifactDeliverable:
		if c.Deliverable == nil || c.Quote != nil {
			return fmt.Errorf("deliverable content requires exactly the deliverable payload")
		}
		if c.Deliverable.FileRef == "" && c.Deliverable.URL == "" {
			return fmt.Errorf("deliverable content requires a file reference or url")
		}
	default:
		return fmt.Errorf("unknown content kind %q", c.Kind)
	}
	return nil
}

// MarshalContent encodes content for a JSONB column.
func MarshalContent(c Content) ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalContent decodes and validates a JSONB column.
func UnmarshalContent(data []byte) (Content, error) {
	var c Content
	if err := json.Unmarshal(data, &c); err != nil {
		return Content{}, err
	}
	if err := c.Validate(); err != nil {
		return Content{}, err
	}
	return c, nil
}

// Clone deep-copies the content so stored versions never share slices with
// callers.
func (c Content) Clone() Content {
	out := Content{Kind: c.Kind}
	if c.Quote != nil {
		q := *c.Quote
		q.Phases = append([]QuotePhase(nil), c.Quote.Phases...)
		out.Quote = &q
	}
	if c.Deliverable != nil {
		d := *c.Deliverable
		out.Deliverable = &d
	}
	return out
}
