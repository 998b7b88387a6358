package repository

import (
	"math"
	"testing"
)

func TestContentValidate(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		wantErr bool
	}{
		{"quote ok", QuoteContentOf(QuoteContent{Phases: []QuotePhase{{Name: "Design", Hours: 10, Rate: 100, Selected: true}}}), false},
		{"deliverable ok", DeliverableContentOf(DeliverableContent{FileRef: "files/logo-v2.zip"}), false},
		{"quote missing payload", Content{Kind: ArtifactQuote}, true},
		{"mixed payloads", Content{Kind: ArtifactQuote, Quote: &QuoteContent{}, Deliverable: &DeliverableContent{FileRef: "x"}}, true},
		{"negative hours", QuoteContentOf(QuoteContent{Phases: []QuotePhase{{Hours: -1, Rate: 10}}}), true},
		{"hours above limit", QuoteContentOf(QuoteContent{Phases: []QuotePhase{{Hours: 1e18, Rate: 100, Selected: true}}, TaxRateBps: 2000}), true},
		{"hours not a number", QuoteContentOf(QuoteContent{Phases: []QuotePhase{{Hours: math.NaN(), Rate: 100}}}), true},
		{"rate above limit", QuoteContentOf(QuoteContent{Phases: []QuotePhase{{Hours: 1, Rate: MaxPhaseRate + 1}}}), true},
		{"tax above limit", QuoteContentOf(QuoteContent{TaxRateBps: MaxTaxRateBps + 1}), true},
		{"too many phases", QuoteContentOf(QuoteContent{Phases: make([]QuotePhase, MaxQuotePhases+1)}), true},
		{"at every limit", QuoteContentOf(QuoteContent{Phases: maxPhases(), TaxRateBps: MaxTaxRateBps}), false},
		{"deliverable without reference", DeliverableContentOf(DeliverableContent{Description: "draft"}), true},
		{"unknown kind", Content{Kind: "invoice"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.content.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func maxPhases() []QuotePhase {
	phases := make([]QuotePhase, MaxQuotePhases)
	for i := range phases {
		phases[i] = QuotePhase{Name: "Phase", Hours: MaxPhaseHours, Rate: MaxPhaseRate, Selected: true}
	}
	return phases
}

func TestUnmarshalContentRejectsInvalid(t *testing.T) {
	if _, err := UnmarshalContent([]byte(`{"kind":"quote"}`)); err == nil {
		t.Fatal("expected validation error for quote without payload")
	}
	c, err := UnmarshalContent([]byte(`{"kind":"deliverable","deliverable":{"file_ref":"a.pdf"}}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Deliverable.FileRef != "a.pdf" {
		t.Fatalf("unexpected file ref %q", c.Deliverable.FileRef)
	}
}

func TestContentCloneIsDeep(t *testing.T) {
	orig := QuoteContentOf(QuoteContent{Phases: []QuotePhase{{Name: "Build", Hours: 5, Rate: 50}}})
	cp := orig.Clone()
	cp.Quote.Phases[0].Hours = 99

	if orig.Quote.Phases[0].Hours != 5 {
		t.Fatalf("clone shares phases with original")
	}
}
