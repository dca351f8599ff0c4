// internal/integration/stripe/dto.go
package stripe

import (
	"bytes"
	"encoding/json"

	"billing-service/internal/domain/billingevent"

	"github.com/samber/lo"
)

// expandable decodes a field the API sends either as an id string or,
// when expanded, as an object with an id.
type expandable string

func (e *expandable) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandable(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandable(obj.ID)
	return nil
}

type wireCheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          expandable        `json:"customer"`
	Subscription      expandable        `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type wireSubscription struct {
	ID                string            `json:"id"`
	Customer          expandable        `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	TrialEnd          int64             `json:"trial_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	CancelAt          int64             `json:"cancel_at"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (s *wireCheckoutSession) toDomain() *billingevent.CheckoutSession {
	return &billingevent.CheckoutSession{
		ID:                s.ID,
		Mode:              s.Mode,
		CustomerID:        string(s.Customer),
		SubscriptionID:    string(s.Subscription),
		ClientReferenceID: s.ClientReferenceID,
		Metadata:          s.Metadata,
	}
}

func (s *wireSubscription) toDomain() *billingevent.SubscriptionSnapshot {
	periodEnd := s.CurrentPeriodEnd
	if periodEnd == 0 {
		itemEnds := make([]int64, 0, len(s.Items.Data))
		for _, item := range s.Items.Data {
			itemEnds = append(itemEnds, item.CurrentPeriodEnd)
		}
		periodEnd = latestPeriodEnd(itemEnds)
	}

	return &billingevent.SubscriptionSnapshot{
		ID:                s.ID,
		CustomerID:        string(s.Customer),
		Status:            s.Status,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		TrialEnd:          lo.EmptyableToPtr(s.TrialEnd),
		CurrentPeriodEnd:  lo.EmptyableToPtr(periodEnd),
		CancelAt:          lo.EmptyableToPtr(s.CancelAt),
		Metadata:          s.Metadata,
	}
}

// latestPeriodEnd picks the latest item period end; API versions from 2025
// carry current_period_end per subscription item only.
func latestPeriodEnd(ends []int64) int64 {
	if len(ends) == 0 {
		return 0
	}
	return lo.Max(ends)
}
