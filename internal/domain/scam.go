// Package domain contains the core session and intelligence types.
package domain

import "strings"

// Status is the lifecycle state of a honeypot session.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusEngaged   Status = "ENGAGED"
	StatusExtracted Status = "EXTRACTED"
	StatusFinalized Status = "FINALIZED"
)

var statusRank = map[Status]int{
	StatusNew:       0,
	StatusEngaged:   1,
	StatusExtracted: 2,
	StatusFinalized: 3,
}

// Rank orders statuses along the lifecycle. Unknown values rank below NEW.
func (s Status) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// ScamType is the archetype of fraud a conversation was classified as.
type ScamType string

const (
	ScamUnknown       ScamType = "unknown"
	ScamBankFraud     ScamType = "bank_fraud"
	ScamUPI           ScamType = "upi_scam"
	ScamPhishing      ScamType = "phishing"
	ScamPrize         ScamType = "prize_scam"
	ScamOTP           ScamType = "otp_scam"
	ScamImpersonation ScamType = "impersonation"
	ScamPayment       ScamType = "payment_scam"
	ScamInvestment    ScamType = "investment_scam"
)

// ScamTypes lists the known archetypes in a stable order.
var ScamTypes = []ScamType{
	ScamBankFraud,
	ScamUPI,
	ScamPhishing,
	ScamPrize,
	ScamOTP,
	ScamImpersonation,
	ScamPayment,
	ScamInvestment,
}

// ParseScamType maps free-form labels ("Bank Fraud", "upi-scam", "OTP") onto
// a known archetype. The boolean is false when nothing matched.
func ParseScamType(raw string) (ScamType, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.NewReplacer(" ", "_", "-", "_").Replace(v)
	if v == "" {
		return ScamUnknown, false
	}
	for _, t := range ScamTypes {
		if v == string(t) {
			return t, true
		}
	}
	if !strings.HasSuffix(v, "_scam") && !strings.HasSuffix(v, "_fraud") {
		for _, t := range ScamTypes {
			if strings.TrimSuffix(string(t), "_scam") == v {
				return t, true
			}
		}
	}
	switch v {
	case "bank", "banking_fraud", "bank_scam":
		return ScamBankFraud, true
	case "upi":
		return ScamUPI, true
	case "phishing_scam":
		return ScamPhishing, true
	case "lottery", "lottery_scam":
		return ScamPrize, true
	case "impersonation_scam":
		return ScamImpersonation, true
	}
	return ScamUnknown, false
}
