package domain

import "time"

// Capability is the coarse permission set of an identity.
type Capability string

const (
	CapabilityGuest    Capability = "GUEST"
	CapabilityStandard Capability = "STANDARD"
)

// ProfileTag is the self-declared profile of an unregistered requester.
type ProfileTag string

const (
	ProfileMilitaryUnverified ProfileTag = "MILITARY_UNVERIFIED"
	ProfileCivilianUnverified ProfileTag = "CIVILIAN_UNVERIFIED"
	ProfileExternalEntity     ProfileTag = "EXTERNAL_ENTITY"
	ProfileUnregistered       ProfileTag = "UNREGISTERED"
)

var profileCodes = map[string]ProfileTag{
	"1": ProfileMilitaryUnverified,
	"2": ProfileCivilianUnverified,
	"3": ProfileExternalEntity,
	"4": ProfileUnregistered,
}

// ProfileForCode resolves a profile menu code.
func ProfileForCode(code string) (ProfileTag, bool) {
	tag, ok := profileCodes[code]
	return tag, ok
}

// DefaultDisplayName is used when the channel provides no profile name.
const DefaultDisplayName = "Usuario de WhatsApp"

// Identity is the conversational counterpart bound to one external address.
type Identity struct {
	ID           string
	Address      string
	DisplayName  string
	AccountID    *string
	Capability   Capability
	ProfileTag   *ProfileTag
	NationalID   *string
	ContactEmail *string
	State        DialogState
	Scratch      Scratch
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewGuestIdentity builds the identity created on first contact.
func NewGuestIdentity(address, displayName string) *Identity {
	if displayName == "" {
		displayName = DefaultDisplayName
	}
	return &Identity{
		Address:     address,
		DisplayName: displayName,
		Capability:  CapabilityGuest,
		State:       DialogAwaitID,
	}
}

// IsLinked reports whether the identity is bound to an internal account.
func (i *Identity) IsLinked() bool {
	return i.AccountID != nil && *i.AccountID != ""
}

// Reset returns the identity to the initial dialog state with empty scratch.
func (i *Identity) Reset() {
	i.State = DialogAwaitID
	i.Scratch = Scratch{}
}

// Clone returns a deep copy safe to mutate.
func (i Identity) Clone() Identity {
	out := i
	out.AccountID = cloneString(i.AccountID)
	out.NationalID = cloneString(i.NationalID)
	out.ContactEmail = cloneString(i.ContactEmail)
	if i.ProfileTag != nil {
		tag := *i.ProfileTag
		out.ProfileTag = &tag
	}
	return out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
