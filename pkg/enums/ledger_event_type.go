package enums

import "fmt"

// LedgerEventType is stored in ledger_events.type (ledger_event_type_enum).
// Settlements are the only source of ledger rows; refunds and manual
// adjustments are booked by the payments system.
type LedgerEventType string

const LedgerEventTypeSettlementPosted LedgerEventType = "settlement_posted"

func (t LedgerEventType) IsValid() bool {
	switch t {
	case LedgerEventTypeSettlementPosted:
		return true
	}
	return false
}

func ParseLedgerEventType(value string) (LedgerEventType, error) {
	t := LedgerEventType(value)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid ledger event type %q", value)
	}
	return t, nil
}
