package domain

import "time"

// Category names one bucket of extracted intelligence.
type Category string

const (
	CategoryBankAccounts       Category = "bankAccounts"
	CategoryUPIIDs             Category = "upiIds"
	CategoryPhishingLinks      Category = "phishingLinks"
	CategoryPhoneNumbers       Category = "phoneNumbers"
	CategorySuspiciousKeywords Category = "suspiciousKeywords"
)

// Categories lists every category in wire order.
var Categories = []Category{
	CategoryBankAccounts,
	CategoryUPIIDs,
	CategoryPhishingLinks,
	CategoryPhoneNumbers,
	CategorySuspiciousKeywords,
}

// Actionable reports whether values of this category identify the attacker
// (accounts, handles, links, numbers) rather than describe the message.
func (c Category) Actionable() bool {
	return c != CategorySuspiciousKeywords && c != ""
}

// Source identifies which extractor produced a fragment.
type Source string

const (
	SourcePattern Source = "pattern"
	SourceModel   Source = "model"
)

// Fragment is a single candidate value produced by an extractor.
type Fragment struct {
	Category   Category `json:"category"`
	Value      string   `json:"value"`
	Raw        string   `json:"raw,omitempty"`
	Source     Source   `json:"source"`
	Confidence float64  `json:"confidence"`
}

// IntelItem is an accepted fragment stored on a session.
type IntelItem struct {
	Value        string    `json:"value"`
	Confidence   float64   `json:"confidence"`
	Source       Source    `json:"source"`
	Corroborated bool      `json:"corroborated,omitempty"`
	Turn         int       `json:"turn"`
	ExtractedAt  time.Time `json:"extractedAt"`
}

// Intelligence holds the per-category sets accumulated over a session.
// Items keep insertion order and are never removed.
type Intelligence struct {
	Items map[Category][]IntelItem `json:"items"`
}

// Add merges a fragment into the set. It returns true when the value was not
// present before. A pattern fragment takes over the confidence and source of a
// model-sourced item with the same value.
func (in *Intelligence) Add(f Fragment, turn int, at time.Time) bool {
	if f.Value == "" || f.Category == "" {
		return false
	}
	if in.Items == nil {
		in.Items = make(map[Category][]IntelItem)
	}
	items := in.Items[f.Category]
	for i := range items {
		if items[i].Value != f.Value {
			continue
		}
		if items[i].Source != f.Source {
			items[i].Corroborated = true
		}
		if f.Source == SourcePattern && items[i].Source != SourcePattern {
			items[i].Source = SourcePattern
			items[i].Confidence = f.Confidence
		}
		return false
	}
	in.Items[f.Category] = append(items, IntelItem{
		Value:       f.Value,
		Confidence:  f.Confidence,
		Source:      f.Source,
		Turn:        turn,
		ExtractedAt: at,
	})
	return true
}

// Values returns the values of a category in insertion order.
func (in Intelligence) Values(c Category) []string {
	items := in.Items[c]
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Value)
	}
	return out
}

// Count returns the number of items in a category.
func (in Intelligence) Count(c Category) int {
	return len(in.Items[c])
}

// Total returns the number of items across all categories.
func (in Intelligence) Total() int {
	n := 0
	for _, items := range in.Items {
		n += len(items)
	}
	return n
}

// Actionable returns the number of items in actionable categories.
func (in Intelligence) Actionable() int {
	n := 0
	for c, items := range in.Items {
		if c.Actionable() {
			n += len(items)
		}
	}
	return n
}

// SensitiveValues returns every actionable value. Replies sent to the
// attacker must not contain any of them.
func (in Intelligence) SensitiveValues() []string {
	var out []string
	for _, c := range Categories {
		if c.Actionable() {
			out = append(out, in.Values(c)...)
		}
	}
	return out
}

// Clone returns a deep copy.
func (in Intelligence) Clone() Intelligence {
	out := Intelligence{Items: make(map[Category][]IntelItem, len(in.Items))}
	for c, items := range in.Items {
		out.Items[c] = append([]IntelItem(nil), items...)
	}
	return out
}

// Snapshot flattens the sets into the wire representation.
func (in Intelligence) Snapshot() ExtractedIntelligence {
	return ExtractedIntelligence{
		BankAccounts:       in.Values(CategoryBankAccounts),
		UPIIDs:             in.Values(CategoryUPIIDs),
		PhishingLinks:      in.Values(CategoryPhishingLinks),
		PhoneNumbers:       in.Values(CategoryPhoneNumbers),
		SuspiciousKeywords: in.Values(CategorySuspiciousKeywords),
	}
}

// ExtractedIntelligence is the array form reported to callers and to the
// evaluation callback.
type ExtractedIntelligence struct {
	BankAccounts       []string `json:"bankAccounts"`
	UPIIDs             []string `json:"upiIds"`
	PhishingLinks      []string `json:"phishingLinks"`
	PhoneNumbers       []string `json:"phoneNumbers"`
	SuspiciousKeywords []string `json:"suspiciousKeywords"`
}
