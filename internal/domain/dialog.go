package domain

import (
	"fmt"
	"sort"
	"strings"
)

// DialogState is the step of the per-identity intake conversation.
type DialogState string

const (
	DialogAwaitID                    DialogState = "AWAIT_ID"
	DialogAwaitContact               DialogState = "AWAIT_CONTACT"
	DialogAwaitTopic                 DialogState = "AWAIT_TOPIC"
	DialogAwaitDescription           DialogState = "AWAIT_DESCRIPTION"
	DialogAwaitProfileSelection      DialogState = "AWAIT_PROFILE_SELECTION"
	DialogAwaitVerification          DialogState = "AWAIT_VERIFICATION"
	DialogActive                     DialogState = "ACTIVE"
	DialogAwaitRating                DialogState = "AWAIT_RATING"
	DialogAwaitKnowledgeConfirmation DialogState = "AWAIT_KNOWLEDGE_CONFIRMATION"
)

var dialogStates = []DialogState{
	DialogAwaitID,
	DialogAwaitContact,
	DialogAwaitTopic,
	DialogAwaitDescription,
	DialogAwaitProfileSelection,
	DialogAwaitVerification,
	DialogActive,
	DialogAwaitRating,
	DialogAwaitKnowledgeConfirmation,
}

// Valid reports whether s is a defined dialog state.
func (s DialogState) Valid() bool {
	for _, known := range dialogStates {
		if known == s {
			return true
		}
	}
	return false
}

// Scratch holds per-state transient dialog fields. Each field is only
// meaningful in the states listed by Validate.
type Scratch struct {
	PendingIdentifier string `json:"pending_identifier,omitempty"`
	TargetAccountID   string `json:"target_account_id,omitempty"`
	Topic             Topic  `json:"topic,omitempty"`
	PendingText       string `json:"pending_text,omitempty"`
	KnowledgeRef      string `json:"knowledge_ref,omitempty"`
	RatingTicketID    string `json:"rating_ticket_id,omitempty"`
}

var scratchStates = map[string][]DialogState{
	"pending_identifier": {DialogAwaitContact},
	"target_account_id":  {DialogAwaitVerification},
	"topic":              {DialogAwaitDescription, DialogAwaitKnowledgeConfirmation},
	"pending_text":       {DialogAwaitKnowledgeConfirmation},
	"knowledge_ref":      {DialogAwaitKnowledgeConfirmation},
	"rating_ticket_id":   {DialogAwaitRating},
}

// IsEmpty reports whether no scratch field is set.
func (s Scratch) IsEmpty() bool {
	return s == Scratch{}
}

// Validate rejects fields populated outside the states that own them.
func (s Scratch) Validate(state DialogState) error {
	if !state.Valid() {
		return fmt.Errorf("unknown dialog state %q", state)
	}
	var invalid []string
	for field, set := range s.populated() {
		if !set {
			continue
		}
		if !stateAllowed(scratchStates[field], state) {
			invalid = append(invalid, field)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return fmt.Errorf("scratch fields %s not allowed in state %s", strings.Join(invalid, ","), state)
	}
	return nil
}

func (s Scratch) populated() map[string]bool {
	return map[string]bool{
		"pending_identifier": s.PendingIdentifier != "",
		"target_account_id":  s.TargetAccountID != "",
		"topic":              s.Topic != "",
		"pending_text":       s.PendingText != "",
		"knowledge_ref":      s.KnowledgeRef != "",
		"rating_ticket_id":   s.RatingTicketID != "",
	}
}

func stateAllowed(states []DialogState, state DialogState) bool {
	for _, candidate := range states {
		if candidate == state {
			return true
		}
	}
	return false
}
